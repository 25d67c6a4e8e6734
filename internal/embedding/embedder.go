package embedding

import "askarc/internal/domain"

// Embedder converts a batch of texts into vectors. Implementations may call
// a remote service; they must return exactly one vector per input, in order,
// and report failures instead of substituting zero vectors.
type Embedder = domain.Embedder

// ModelID identifies the vectors an embedder produces. Snapshots built with
// a different ModelID are never reused.
func ModelID(e Embedder) string {
	return e.Name() + ":" + e.Model()
}
