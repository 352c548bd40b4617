package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/data"
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/serialization"
	"github.com/born-ml/dynamite/internal/tokenizer"
	"github.com/born-ml/dynamite/internal/train"
)

func runTrain(args []string) error {
	cfg := train.DefaultConfig()
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Number of sequences per minibatch.")
	fs.IntVar(&cfg.NumBatches, "batches", cfg.NumBatches, "Number of minibatches to train on.")
	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Optimizer: sgd or adam.")
	lr := fs.Float64("lr", float64(cfg.LR), "Learning rate per sample.")
	momentum := fs.Float64("momentum", 0, "SGD momentum.")
	fs.BoolVar(&cfg.VerifyStatic, "verify", cfg.VerifyStatic, "Check every batch against the static per-example loss.")
	fs.Float64Var(&cfg.Tolerance, "tolerance", cfg.Tolerance, "Relative tolerance of the static check.")
	fs.BoolVar(&cfg.Engine.Batching, "batching", cfg.Engine.Batching, "Group isomorphic operations across examples.")
	fs.IntVar(&cfg.Engine.MaxInflightSteps, "inflight", cfg.Engine.MaxInflightSteps, "Maximum batched steps executed concurrently within a level.")
	fs.BoolVar(&cfg.Engine.CheckFinite, "check_finite", cfg.Engine.CheckFinite, "Fail on NaN or Inf values.")
	fs.IntVar(&cfg.Model.Vocab, "vocab", cfg.Model.Vocab, "Input vocabulary size.")
	fs.IntVar(&cfg.Model.EmbeddingDim, "embed_dim", cfg.Model.EmbeddingDim, "Embedding size.")
	fs.IntVar(&cfg.Model.HiddenDim, "hidden_dim", cfg.Model.HiddenDim, "Recurrent state size.")
	fs.IntVar(&cfg.Model.NumClasses, "classes", cfg.Model.NumClasses, "Number of classes.")
	fs.Int64Var(&cfg.Data.Seed, "seed", cfg.Data.Seed, "Seed of the synthetic data.")
	dataPath := fs.String("data", "", "Text dataset with one 'label<TAB>text' per line. Synthetic data is used if empty.")
	encoding := fs.String("encoding", "cl100k_base", "tiktoken encoding used to tokenize -data.")
	quiet := fs.Bool("quiet", false, "Print only the final statistics.")
	loadPath := fs.String("load", "", "SafeTensors checkpoint to initialize the parameters from.")
	savePath := fs.String("save", "", "SafeTensors file to write the trained parameters to.")
	must.M(fs.Parse(args))

	cfg.LR = float32(*lr)
	cfg.Momentum = float32(*momentum)
	cfg.Data.Vocab = cfg.Model.Vocab
	cfg.Data.NumClasses = cfg.Model.NumClasses

	examples, err := loadExamples(cfg, *dataPath, *encoding)
	if err != nil {
		return err
	}
	batches := data.Minibatches(examples, cfg.BatchSize)
	if len(batches) > cfg.NumBatches {
		batches = batches[:cfg.NumBatches]
	}
	if len(batches) == 0 {
		return errors.New("no minibatches to train on")
	}

	trainer, err := train.New(cfg)
	if err != nil {
		return err
	}
	if *loadPath != "" {
		meta, err := serialization.LoadParameters(*loadPath, trainer.Engine(), trainer.Model().Parameters())
		if err != nil {
			return err
		}
		klog.Infof("initialized parameters from %s (%d metadata entries)", *loadPath, len(meta))
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var bar *progressbar.ProgressBar
	if *quiet {
		bar = progressbar.DefaultSilent(int64(len(batches)))
	} else {
		bar = newProgressBar(len(batches), "training")
	}
	var (
		total   engine.Stats
		results []train.BatchResult
	)
	start := time.Now()
	err = trainer.Run(ctx, batches, func(res train.BatchResult) {
		total = total.Add(res.Stats)
		results = append(results, res)
		bar.Describe(fmt.Sprintf("loss %.4f", res.Loss))
		_ = bar.Add(1)
		if !*quiet {
			_ = bar.Clear()
			fmt.Println(res.Summary)
		}
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println(batchTable(results))
	fmt.Println(statsTable("batched", total))
	fmt.Printf("trained %d batches in %s (%.2f ops per kernel launch)\n", len(results), elapsed.Round(time.Millisecond), total.BatchingFactor())

	if *savePath != "" {
		meta := map[string]string{
			"batches":   strconv.Itoa(len(results)),
			"optimizer": cfg.Optimizer,
			"loss":      strconv.FormatFloat(results[len(results)-1].Loss, 'g', 8, 64),
		}
		if err := serialization.SaveParameters(*savePath, trainer.Model().Parameters(), meta); err != nil {
			return err
		}
		fmt.Printf("saved parameters to %s\n", *savePath)
	}
	return nil
}

// loadExamples reads examples from path, or generates synthetic ones.
func loadExamples(cfg train.Config, path, encoding string) ([]data.Example, error) {
	if path == "" {
		gen, err := data.NewSynthetic(cfg.Data)
		if err != nil {
			return nil, err
		}
		return gen.Take(cfg.BatchSize * cfg.NumBatches), nil
	}
	tok, err := tokenizer.NewTikToken(encoding)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %q", path)
	}
	defer func() { _ = f.Close() }()
	examples, err := tokenizer.NewDatasetReader(tok, cfg.Model.Vocab, cfg.Model.NumClasses).Read(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading dataset %q", path)
	}
	klog.Infof("read %d examples from %s with %s", len(examples), path, tok.Name())
	return examples, nil
}
