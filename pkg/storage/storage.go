// Package storage persists the memory system's file artifacts: profile
// snapshots exported on demand and tombstones of group-profile topics that
// fell to eviction. A [FileStore] abstracts the backing store so the same
// layout works on local disk or any S3-compatible bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing.
	// If the file already exists it is truncated.
	// Parent directories are created automatically.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the paths of the stored files starting with prefix,
	// in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WriteJSON stores v at path as indented JSON.
func WriteJSON(ctx context.Context, store FileStore, path string, v any) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		w.Close()
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	return w.Close()
}

// ReadJSON loads the JSON document at path into v.
func ReadJSON(ctx context.Context, store FileStore, path string, v any) error {
	r, err := store.Read(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return nil
}
