// Package vector provides the slot similarity index. Canonical slot
// embeddings are upserted here and queried with cosine similarity during
// slot discovery. Embeddings are computed externally by pkg/embedder; the
// providers only store and search pre-computed vectors.
package vector

import "context"

// Result is a single similarity search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Provider is the storage backend for slot vectors.
type Provider interface {
	// Upsert adds or replaces a vector under the given id.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK most similar vectors by cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines similarity with exact-match metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a vector by id.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteCollection removes a collection and all its vectors.
	DeleteCollection(ctx context.Context, collection string) error

	Name() string

	Close() error
}

// NilProvider is used when no vector backend is configured. Searches return
// no results; similarity lookups then fall back to the slot store's
// brute-force scan.
type NilProvider struct{}

func (NilProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	return nil
}

func (NilProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return nil, nil
}

func (NilProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	return nil, nil
}

func (NilProvider) Delete(ctx context.Context, collection string, id string) error { return nil }

func (NilProvider) DeleteCollection(ctx context.Context, collection string) error { return nil }

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Close() error { return nil }

var _ Provider = NilProvider{}
