// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metadata defines the index that maps (user, key) to the ordered
// chunk list of an object.
package metadata

import (
	"context"

	"storj.io/haystack/storage"
)

// DB is the metadata index. Implementations must make every mutation atomic
// with respect to concurrent mutations of the same (user, key).
//
// Absence is reported with storage.ErrNotFound, presence where absence is
// required with storage.ErrAlreadyExists, and everything else is wrapped in
// storage.ErrBackend.
type DB interface {
	// Put creates the record for key. It fails if a live record exists.
	Put(ctx context.Context, user, key string, chunks storage.Chunks) error
	// Get returns the chunk list of key.
	Get(ctx context.Context, user, key string) (storage.Chunks, error)
	// Update replaces the chunk list of an existing key.
	Update(ctx context.Context, user, key string, chunks storage.Chunks) error
	// AppendChunk adds one chunk to the end of an existing key's list.
	AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) error
	// Delete removes the record for key and returns the removed chunk list.
	Delete(ctx context.Context, user, key string) (storage.Chunks, error)
	// Rename moves the record for oldKey to newKey, keeping the chunk list.
	Rename(ctx context.Context, user, oldKey, newKey string) error
	// Exists reports whether a live record exists. Absence is not an error.
	Exists(ctx context.Context, user, key string) (bool, error)
	// List returns the keys of user in ascending order.
	List(ctx context.Context, user string) ([]string, error)
	// Close releases the resources held by the index.
	Close() error
}
