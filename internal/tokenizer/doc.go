// Package tokenizer turns text into token sequences for the sequence
// classifier.
//
// Text datasets are line oriented, one labeled example per line:
//
//	<label>\t<text>
//
// Text is encoded with a tiktoken BPE encoding and token ids are folded into
// the model vocabulary by modulo, so any encoding works with any embedding
// table size.
//
// Example usage:
//
//	tok, err := tokenizer.NewTikToken("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reader := tokenizer.NewDatasetReader(tok, 2000, 5)
//	examples, err := reader.Read(file)
package tokenizer
