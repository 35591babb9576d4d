// Package embedding defines the narrow interface the core consumes for
// vector generation, plus the binary wire format spec.md §6 fixes for the
// `node_embeddings.embedding` column, plus one concrete Provider,
// OllamaProvider (ollama.go). The core packages depend only on the
// interface, matching the teacher's own `internal/embedding` package being
// a separate concern from `internal/graph`.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Provider generates an embedding vector for a piece of text. Implemented
// by callers (e.g. an Ollama or OpenAI client); the core never constructs
// one itself.
type Provider interface {
	Embed(text string) ([]float32, error)
}

// Serialize encodes v as little-endian IEEE-754 float32, 4*len(v) bytes,
// no header — the exact format spec.md §6 mandates for the
// node_embeddings BLOB column.
func Serialize(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Deserialize is Serialize's inverse. Returns an error if b's length is
// not a multiple of 4.
func Deserialize(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding: byte length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
