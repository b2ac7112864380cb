package graph

import (
	"encoding/binary"
	"math"
)

// EmbeddingDim is the fixed embedding width produced by the embedding
// oracle (text-embedding-ada-002).
const EmbeddingDim = 1536

// EncodeEmbedding serializes a vector as a fixed-width little-endian
// float32 blob for at-rest storage. A nil or empty vector encodes to nil.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes a blob produced by EncodeEmbedding. Blobs
// that are empty or not a multiple of 4 bytes decode to nil rather than
// erroring; a missing embedding is an expected state, not a failure.
func DecodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
