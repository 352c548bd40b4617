package tokenizer

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/data"
)

// DatasetReader parses "label<TAB>text" lines into examples.
type DatasetReader struct {
	tok        Tokenizer
	vocab      int
	numClasses int
}

// NewDatasetReader creates a reader folding token ids into [0, vocab) and
// accepting labels in [0, numClasses).
func NewDatasetReader(tok Tokenizer, vocab, numClasses int) *DatasetReader {
	return &DatasetReader{tok: tok, vocab: vocab, numClasses: numClasses}
}

// Read parses every line of r. Empty lines and lines starting with '#' are
// skipped; lines whose text encodes to no regular token are dropped.
func (d *DatasetReader) Read(r io.Reader) ([]data.Example, error) {
	var examples []data.Example
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ex, ok, err := d.ParseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		if ok {
			examples = append(examples, ex)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading dataset")
	}
	return examples, nil
}

// ParseLine parses one "label<TAB>text" line. ok is false when the text has
// no regular tokens.
func (d *DatasetReader) ParseLine(line string) (ex data.Example, ok bool, err error) {
	labelText, text, found := strings.Cut(line, "\t")
	if !found {
		return ex, false, errors.Errorf("missing tab separator in %q", line)
	}
	label, err := strconv.Atoi(strings.TrimSpace(labelText))
	if err != nil {
		return ex, false, errors.Wrapf(err, "invalid label %q", labelText)
	}
	if label < 0 || label >= d.numClasses {
		return ex, false, errors.Errorf("label %d out of range [0, %d)", label, d.numClasses)
	}
	ids, err := d.tok.Encode(text)
	if err != nil {
		return ex, false, errors.Wrap(err, "encoding text")
	}
	tokens := make([]int, 0, len(ids))
	for _, id := range ids {
		if d.tok.IsSpecialToken(id) {
			continue
		}
		tokens = append(tokens, int(id)%d.vocab)
	}
	if len(tokens) == 0 {
		return ex, false, nil
	}
	return data.Example{Tokens: tokens, Label: label}, true, nil
}
