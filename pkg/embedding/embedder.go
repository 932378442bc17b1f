// Package embedding defines the embedding boundary: text in, fixed-
// length vector out, deterministic for identical input. The same
// embedder instance is used for corpus indexing and query-time search
// so dimensionality always matches.
package embedding

import "context"

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length this embedder
	// produces. Index construction validates against it.
	Dimensions() int
}
