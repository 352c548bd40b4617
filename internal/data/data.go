// Package data produces labeled token sequences for the sequence
// classifier: a seeded synthetic generator, and minibatching with the
// summary line printed per batch.
package data

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Example is one labeled token sequence.
type Example struct {
	Tokens []int
	Label  int
}

// SyntheticConfig controls the synthetic generator.
type SyntheticConfig struct {
	Vocab      int
	NumClasses int
	MinLen     int
	MaxLen     int
	Seed       int64
}

// DefaultSyntheticConfig matches the default sequence classifier.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Vocab:      2000,
		NumClasses: 5,
		MinLen:     2,
		MaxLen:     20,
		Seed:       1,
	}
}

// Validate checks the configuration.
func (c SyntheticConfig) Validate() error {
	switch {
	case c.Vocab <= 0:
		return errors.Errorf("vocab must be positive, got %d", c.Vocab)
	case c.NumClasses <= 0:
		return errors.Errorf("number of classes must be positive, got %d", c.NumClasses)
	case c.MinLen <= 0 || c.MaxLen < c.MinLen:
		return errors.Errorf("invalid length range [%d, %d]", c.MinLen, c.MaxLen)
	}
	return nil
}

// Synthetic generates reproducible examples of variable length. The label is
// the most frequent token class (token mod NumClasses), ties going to the
// smallest class, so it is a function of the content.
type Synthetic struct {
	cfg SyntheticConfig
	rng *rand.Rand
}

// NewSynthetic creates a generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	//nolint:gosec // Using math/rand for data generation (not security-critical)
	return &Synthetic{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Next returns the next example.
func (s *Synthetic) Next() Example {
	n := s.cfg.MinLen + s.rng.Intn(s.cfg.MaxLen-s.cfg.MinLen+1)
	tokens := make([]int, n)
	for i := range tokens {
		tokens[i] = s.rng.Intn(s.cfg.Vocab)
	}
	return Example{Tokens: tokens, Label: LabelOf(tokens, s.cfg.NumClasses)}
}

// Take returns the next n examples.
func (s *Synthetic) Take(n int) []Example {
	out := make([]Example, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// LabelOf returns the majority token class of tokens.
func LabelOf(tokens []int, numClasses int) int {
	counts := make([]int, numClasses)
	for _, t := range tokens {
		counts[t%numClasses]++
	}
	best := 0
	for c, n := range counts {
		if n > counts[best] {
			best = c
		}
	}
	return best
}

// Minibatches splits examples into consecutive batches of at most size.
func Minibatches(examples []Example, size int) [][]Example {
	if size <= 0 {
		size = len(examples)
	}
	var batches [][]Example
	for start := 0; start < len(examples); start += size {
		end := min(start+size, len(examples))
		batches = append(batches, examples[start:end])
	}
	return batches
}

// Summary describes one minibatch.
type Summary struct {
	Size   int
	Tokens int
	MaxLen int
}

// Summarize computes the summary of batch.
func Summarize(batch []Example) Summary {
	s := Summary{Size: len(batch)}
	for _, ex := range batch {
		s.Tokens += len(ex.Tokens)
		s.MaxLen = max(s.MaxLen, len(ex.Tokens))
	}
	return s
}

// AvgLen returns the average sequence length.
func (s Summary) AvgLen() float64 {
	if s.Size == 0 {
		return 0
	}
	return float64(s.Tokens) / float64(s.Size)
}

func (s Summary) String() string {
	return fmt.Sprintf("batch of %d with %d tokens, max len %d, av len %.2f", s.Size, s.Tokens, s.MaxLen, s.AvgLen())
}
