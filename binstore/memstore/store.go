// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memstore implements an in-memory binstore.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"storj.io/haystack/binstore"
	"storj.io/haystack/storage"
)

var (
	_ binstore.Store       = (*Store)(nil)
	_ binstore.DeletionLog = (*Store)(nil)
)

// Store keeps one growable buffer per user.
type Store struct {
	mu          sync.Mutex
	containers  map[string][]byte
	deletions   map[string][]binstore.DeletionEntry
	checkpoints map[string]binstore.Checkpoint
	closed      bool

	// Now is used to timestamp deletion entries.
	Now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		containers:  make(map[string][]byte),
		deletions:   make(map[string][]binstore.DeletionEntry),
		checkpoints: make(map[string]binstore.Checkpoint),
		Now:         time.Now,
	}
}

func (store *Store) checkOpen(ctx context.Context) error {
	if store.closed {
		return storage.ErrBackend.New("store closed")
	}
	return ctx.Err()
}

// Append writes data at the end of the user's container.
func (store *Store) Append(ctx context.Context, user string, data []byte) (storage.Chunk, error) {
	chunks, err := store.AppendBatch(ctx, user, [][]byte{data})
	if err != nil {
		return storage.Chunk{}, err
	}
	return chunks[0], nil
}

// AppendBatch writes parts contiguously at the end of the user's container.
func (store *Store) AppendBatch(ctx context.Context, user string, parts [][]byte) (storage.Chunks, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.checkOpen(ctx); err != nil {
		return nil, err
	}

	container := store.containers[user]
	chunks := binstore.Layout(uint64(len(container)), parts)
	for _, part := range parts {
		container = append(container, part...)
	}
	store.containers[user] = container
	return chunks, nil
}

// Read returns exactly the bytes of chunk.
func (store *Store) Read(ctx context.Context, user string, chunk storage.Chunk) ([]byte, error) {
	parts, err := store.ReadBatch(ctx, user, storage.Chunks{chunk})
	if err != nil {
		return nil, err
	}
	return parts[0], nil
}

// ReadBatch reads every chunk, in order.
func (store *Store) ReadBatch(ctx context.Context, user string, chunks storage.Chunks) ([][]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.checkOpen(ctx); err != nil {
		return nil, err
	}

	container := store.containers[user]
	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		if err := binstore.CheckRange(chunk, uint64(len(container))); err != nil {
			return nil, err
		}
		parts[i] = append([]byte(nil), container[chunk.Offset:chunk.End()]...)
	}
	return parts, nil
}

// LogDeletion records that chunks are no longer referenced.
func (store *Store) LogDeletion(ctx context.Context, user, key string, chunks storage.Chunks, reason binstore.Reason) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.checkOpen(ctx); err != nil {
		return err
	}

	entries := store.deletions[user]
	store.deletions[user] = append(entries, binstore.DeletionEntry{
		User:     user,
		Key:      key,
		Chunks:   chunks.Clone(),
		Reason:   reason,
		Deleted:  store.Now(),
		Position: int64(len(entries) + 1),
	})
	return nil
}

// IterateDeletions calls fn for every deletion entry after its user's
// checkpoint. The position of an entry is its 1-based index in the log.
func (store *Store) IterateDeletions(ctx context.Context, fn func(binstore.DeletionEntry) error) error {
	store.mu.Lock()
	if err := store.checkOpen(ctx); err != nil {
		store.mu.Unlock()
		return err
	}
	users := make([]string, 0, len(store.deletions))
	for user := range store.deletions {
		users = append(users, user)
	}
	sort.Strings(users)

	var entries []binstore.DeletionEntry
	for _, user := range users {
		log := store.deletions[user]
		processed := store.checkpoints[user].Position
		if processed > int64(len(log)) {
			processed = int64(len(log))
		}
		entries = append(entries, log[processed:]...)
	}
	store.mu.Unlock()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoints returns the saved checkpoint of every user that has one.
func (store *Store) Checkpoints(ctx context.Context) (map[string]binstore.Checkpoint, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.checkOpen(ctx); err != nil {
		return nil, err
	}

	checkpoints := make(map[string]binstore.Checkpoint, len(store.checkpoints))
	for user, checkpoint := range store.checkpoints {
		checkpoints[user] = checkpoint.Clone()
	}
	return checkpoints, nil
}

// SaveCheckpoint marks the entries of user up to checkpoint.Position as
// processed.
func (store *Store) SaveCheckpoint(ctx context.Context, user string, checkpoint binstore.Checkpoint) error {
	if err := storage.ValidateUser(user); err != nil {
		return err
	}
	if checkpoint.Position < 0 {
		return storage.ErrInvalidInput.New("negative checkpoint position %d", checkpoint.Position)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.checkOpen(ctx); err != nil {
		return err
	}

	store.checkpoints[user] = checkpoint.Clone()
	return nil
}

// Verify reports whether the bytes of chunk match checksum.
func (store *Store) Verify(ctx context.Context, user string, chunk storage.Chunk, checksum uint64) (bool, error) {
	data, err := store.Read(ctx, user, chunk)
	if err != nil {
		return false, err
	}
	return binstore.Checksum(data) == checksum, nil
}

// Size returns the length of the user's container.
func (store *Store) Size(user string) uint64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	return uint64(len(store.containers[user]))
}

// Close drops all containers.
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.closed = true
	store.containers = nil
	store.deletions = nil
	store.checkpoints = nil
	return nil
}
