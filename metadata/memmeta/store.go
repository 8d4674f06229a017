// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package memmeta

import (
	"context"
	"sort"
	"sync"

	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var _ metadata.DB = (*DB)(nil)

// DB implements an in-memory metadata index. Nothing survives Close.
type DB struct {
	mu    sync.RWMutex
	users map[string]map[string]storage.Chunks

	CallCount struct {
		Put         int
		Get         int
		Update      int
		AppendChunk int
		Delete      int
		Rename      int
		Exists      int
		List        int
		Close       int
	}
}

// New creates a new in-memory metadata index.
func New() *DB {
	return &DB{users: make(map[string]map[string]storage.Chunks)}
}

// Put creates the record for key.
func (db *DB) Put(ctx context.Context, user, key string, chunks storage.Chunks) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Put++

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}
	objects := db.users[user]
	if objects == nil {
		objects = make(map[string]storage.Chunks)
		db.users[user] = objects
	}
	if _, ok := objects[key]; ok {
		return storage.ErrAlreadyExists.New("%q", key)
	}
	objects[key] = chunks.Clone()
	return nil
}

// Get returns the chunk list of key.
func (db *DB) Get(ctx context.Context, user, key string) (storage.Chunks, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Get++

	chunks, ok := db.users[user][key]
	if !ok {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	return chunks.Clone(), nil
}

// Update replaces the chunk list of key.
func (db *DB) Update(ctx context.Context, user, key string, chunks storage.Chunks) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Update++

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}
	if _, ok := db.users[user][key]; !ok {
		return storage.ErrNotFound.New("%q", key)
	}
	db.users[user][key] = chunks.Clone()
	return nil
}

// AppendChunk adds chunk to the end of the list of key.
func (db *DB) AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.AppendChunk++

	chunks, ok := db.users[user][key]
	if !ok {
		return storage.ErrNotFound.New("%q", key)
	}
	db.users[user][key] = append(chunks.Clone(), chunk)
	return nil
}

// Delete removes key and returns its chunk list.
func (db *DB) Delete(ctx context.Context, user, key string) (storage.Chunks, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Delete++

	chunks, ok := db.users[user][key]
	if !ok {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	delete(db.users[user], key)
	return chunks, nil
}

// Rename moves oldKey to newKey.
func (db *DB) Rename(ctx context.Context, user, oldKey, newKey string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Rename++

	objects := db.users[user]
	chunks, ok := objects[oldKey]
	if !ok {
		return storage.ErrNotFound.New("%q", oldKey)
	}
	if _, ok := objects[newKey]; ok {
		return storage.ErrAlreadyExists.New("%q", newKey)
	}
	delete(objects, oldKey)
	objects[newKey] = chunks
	return nil
}

// Exists reports whether key exists.
func (db *DB) Exists(ctx context.Context, user, key string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Exists++

	_, ok := db.users[user][key]
	return ok, nil
}

// List returns the sorted keys of user.
func (db *DB) List(ctx context.Context, user string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.List++

	keys := make([]string, 0, len(db.users[user]))
	for key := range db.users[user] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close drops all records.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.CallCount.Close++

	db.users = make(map[string]map[string]storage.Chunks)
	return nil
}
