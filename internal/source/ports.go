package source

import "context"

// File is one raw delimited-text blob in the source store.
type File struct {
	// ID is the adapter-specific identity used to fetch the content.
	ID string
	// Name is the human-readable file name, used as the source-unit key.
	Name string
}

// Tree is the hierarchical file store supplying raw source units. List
// walks the whole tree below the configured root, skipping the cache
// subtree, so ingestion sees every export regardless of folder layout.
type Tree interface {
	List(ctx context.Context) ([]File, error)
	Fetch(ctx context.Context, id string) (string, error)
}
