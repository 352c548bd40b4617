// Package serialization saves and restores parameter values as SafeTensors
// files, the format HuggingFace tooling reads:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	[tensor data: little-endian float32, in name order]
//
// The header carries a "__metadata__" map; Write adds the SHA-256 of the data
// section to it and Read verifies it when present.
//
// Example:
//
//	err := serialization.SaveParameters("model.safetensors", model.Parameters(), nil)
//	...
//	meta, err := serialization.LoadParameters("model.safetensors", eng, model.Parameters())
package serialization
