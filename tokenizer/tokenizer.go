// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tokenizer turns labeled text into token sequences for dynamite's
// sequence classifier.
//
// Example usage:
//
//	import "github.com/born-ml/dynamite/tokenizer"
//
//	tok, err := tokenizer.NewTikToken("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	examples, err := tokenizer.NewDatasetReader(tok, 2000, 5).Read(file)
package tokenizer

import (
	"github.com/born-ml/dynamite/internal/tokenizer"
)

// Tokenizer is the core interface for text tokenization.
type Tokenizer = tokenizer.Tokenizer

// TikToken wraps the tiktoken BPE encodings.
type TikToken = tokenizer.TikToken

// DatasetReader parses "label<TAB>text" lines into examples.
type DatasetReader = tokenizer.DatasetReader

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	return tokenizer.NewTikToken(encodingName)
}

// NewDatasetReader creates a dataset reader.
func NewDatasetReader(tok Tokenizer, vocab, numClasses int) *DatasetReader {
	return tokenizer.NewDatasetReader(tok, vocab, numClasses)
}
