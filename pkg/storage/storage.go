package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage provides an abstraction over key-value style file storage.
// Write must be atomic: a concurrent reader observes either the previous
// document or the new one, never a partial write.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the documents directly under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// ListPrefixes returns the child "directories" directly under prefix.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}
