// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/haystack/binstore"
	"storj.io/haystack/binstore/bintest"
	"storj.io/haystack/binstore/filestore"
	"storj.io/haystack/storage"
)

func TestSuite(t *testing.T) {
	for _, sync := range []bool{false, true} {
		sync := sync
		name := "NoSync"
		if sync {
			name = "Sync"
		}
		t.Run(name, func(t *testing.T) {
			bintest.Run(t, func(ctx context.Context, t *testing.T) binstore.Store {
				store, err := filestore.Open(zaptest.NewLogger(t), t.TempDir(), filestore.Config{Sync: sync})
				assert.NoError(t, err)
				return store
			})
		})
	}
}

func TestReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("store")
	log := zaptest.NewLogger(t)

	store, err := filestore.Open(log, dir, filestore.Config{Sync: true})
	assert.NoError(t, err)

	first, err := store.Append(ctx, "alice", []byte("Hello "))
	assert.NoError(t, err)
	assert.NoError(t, store.LogDeletion(ctx, "alice", "f0", storage.Chunks{first}, binstore.ReasonDelete))
	assert.NoError(t, store.Close())

	// the container file holds exactly the appended bytes.
	data, err := os.ReadFile(filepath.Join(dir, "alice.bin"))
	assert.NoError(t, err)
	assert.Equal(t, string(data), "Hello ")

	store, err = filestore.Open(log, dir, filestore.Config{Sync: true})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	size, err := store.Size(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, size, uint64(6))

	second, err := store.Append(ctx, "alice", []byte("World"))
	assert.NoError(t, err)
	assert.Equal(t, second, storage.Chunk{Offset: 6, Size: 5})

	all, err := binstore.ReadAll(ctx, store, "alice", storage.Chunks{first, second})
	assert.NoError(t, err)
	assert.Equal(t, string(all), "Hello World")

	var entries []binstore.DeletionEntry
	assert.NoError(t, store.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		entries = append(entries, entry)
		return nil
	}))
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].Key, "f0")
	assert.DeepEqual(t, entries[0].Chunks, storage.Chunks{first})
}

func TestDirectoryLock(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("store")
	log := zaptest.NewLogger(t)

	store, err := filestore.Open(log, dir, filestore.Config{})
	assert.NoError(t, err)

	_, err = filestore.Open(log, dir, filestore.Config{})
	assert.Error(t, err)

	assert.NoError(t, store.Close())

	store, err = filestore.Open(log, dir, filestore.Config{})
	assert.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestTornDeletionLog(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("store")

	store, err := filestore.Open(zaptest.NewLogger(t), dir, filestore.Config{})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	assert.NoError(t, store.LogDeletion(ctx, "bob", "a", storage.Chunks{{Offset: 0, Size: 1}}, binstore.ReasonDelete))

	fh, err := os.OpenFile(filepath.Join(dir, "bob.deleted"), os.O_APPEND|os.O_WRONLY, 0644)
	assert.NoError(t, err)
	_, err = fh.WriteString(`{"user":"bob","key":"b","chu`)
	assert.NoError(t, err)
	assert.NoError(t, fh.Close())

	count := 0
	assert.NoError(t, store.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		count++
		assert.Equal(t, entry.Key, "a")
		return nil
	}))
	assert.Equal(t, count, 1)
}

func TestInvalidUser(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := filestore.Open(zaptest.NewLogger(t), ctx.Dir("store"), filestore.Config{})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	for _, user := range []string{"", "..", "a/b"} {
		_, err := store.Append(ctx, user, []byte("x"))
		assert.That(t, storage.ErrInvalidInput.Has(err))
	}
}

func TestCanceled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := filestore.Open(zaptest.NewLogger(t), ctx.Dir("store"), filestore.Config{})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = store.Append(canceled, "alice", []byte("x"))
	assert.Error(t, err)

	size, err := store.Size(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, size, uint64(0))
}

func TestCheckpointReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	dir := ctx.Dir("store")

	store, err := filestore.Open(log, dir, filestore.Config{Sync: true})
	assert.NoError(t, err)

	for _, key := range []string{"a", "b", "c"} {
		assert.NoError(t, store.LogDeletion(ctx, "bob", key, storage.Chunks{{Offset: 0, Size: 2}}, binstore.ReasonDelete))
	}

	var positions []int64
	assert.NoError(t, store.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		positions = append(positions, entry.Position)
		return nil
	}))
	assert.Equal(t, len(positions), 3)

	assert.NoError(t, store.SaveCheckpoint(ctx, "bob", binstore.Checkpoint{Position: positions[1], Entries: 2, Bytes: 4}))
	assert.NoError(t, store.Close())

	store, err = filestore.Open(log, dir, filestore.Config{})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	checkpoints, err := store.Checkpoints(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(checkpoints), 1)
	assert.Equal(t, checkpoints["bob"].Position, positions[1])
	assert.Equal(t, checkpoints["bob"].Entries, int64(2))

	var keys []string
	assert.NoError(t, store.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		keys = append(keys, entry.Key)
		assert.Equal(t, entry.Position, positions[2])
		return nil
	}))
	assert.DeepEqual(t, keys, []string{"c"})

	// only the checkpoint itself lives next to the logs.
	_, err = os.Stat(filepath.Join(dir, "bob.checkpoint.tmp"))
	assert.That(t, os.IsNotExist(err))
}

func TestDiskSpace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := filestore.Open(zaptest.NewLogger(t), ctx.Dir("store"), filestore.Config{})
	assert.NoError(t, err)
	defer ctx.Check(store.Close)

	space, err := store.DiskSpace(ctx)
	assert.NoError(t, err)
	assert.That(t, space.Total > 0)
	assert.That(t, space.Free <= space.Total)
}
