// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package bintest contains the tests every binstore.Store implementation must pass.
package bintest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/haystack/binstore"
	"storj.io/haystack/storage"
)

// RunTests runs common binstore.Store tests.
func RunTests(t *testing.T, store binstore.Store) {
	t.Run("AppendRead", func(t *testing.T) { testAppendRead(t, store) })
	t.Run("OutOfRange", func(t *testing.T) { testOutOfRange(t, store) })
	t.Run("Batch", func(t *testing.T) { testBatch(t, store) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, store) })
	t.Run("ParallelAppend", func(t *testing.T) { testParallelAppend(t, store) })
	t.Run("Verify", func(t *testing.T) { testVerify(t, store) })
	t.Run("DeletionLog", func(t *testing.T) { testDeletionLog(t, store) })
}

func testAppendRead(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "append-read"

	first, err := store.Append(ctx, user, []byte("Hello "))
	require.NoError(t, err)
	require.Equal(t, storage.Chunk{Offset: 0, Size: 6}, first)

	second, err := store.Append(ctx, user, []byte("World"))
	require.NoError(t, err)
	require.Equal(t, storage.Chunk{Offset: 6, Size: 5}, second)

	data, err := store.Read(ctx, user, first)
	require.NoError(t, err)
	require.Equal(t, "Hello ", string(data))

	data, err = store.Read(ctx, user, second)
	require.NoError(t, err)
	require.Equal(t, "World", string(data))

	// ranges need not match an append.
	data, err = store.Read(ctx, user, storage.Chunk{Offset: 4, Size: 4})
	require.NoError(t, err)
	require.Equal(t, "o Wo", string(data))

	data, err = store.Read(ctx, user, storage.Chunk{Offset: 11, Size: 0})
	require.NoError(t, err)
	require.Len(t, data, 0)
}

func testOutOfRange(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "out-of-range"

	_, err := store.Append(ctx, user, []byte("0123456789"))
	require.NoError(t, err)

	for _, chunk := range []storage.Chunk{
		{Offset: 0, Size: 11},
		{Offset: 10, Size: 1},
		{Offset: 100, Size: 1},
		{Offset: 1, Size: ^uint64(0)},
	} {
		_, err := store.Read(ctx, user, chunk)
		require.True(t, storage.ErrOutOfRange.Has(err), "%v: %+v", chunk, err)
	}

	_, err = store.Read(ctx, "out-of-range-nobody", storage.Chunk{Offset: 0, Size: 1})
	require.True(t, storage.ErrOutOfRange.Has(err), "%+v", err)

	_, err = store.ReadBatch(ctx, user, storage.Chunks{{Offset: 0, Size: 1}, {Offset: 9, Size: 2}})
	require.True(t, storage.ErrOutOfRange.Has(err), "%+v", err)
}

func testBatch(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "batch"

	_, err := store.Append(ctx, user, []byte("xx"))
	require.NoError(t, err)

	parts := [][]byte{testrand.BytesInt(10), testrand.BytesInt(1), testrand.BytesInt(100)}
	chunks, err := store.AppendBatch(ctx, user, parts)
	require.NoError(t, err)
	require.Equal(t, storage.Chunks{
		{Offset: 2, Size: 10},
		{Offset: 12, Size: 1},
		{Offset: 13, Size: 100},
	}, chunks)

	read, err := store.ReadBatch(ctx, user, chunks)
	require.NoError(t, err)
	require.Equal(t, parts, read)

	all, err := binstore.ReadAll(ctx, store, user, chunks)
	require.NoError(t, err)
	require.Len(t, all, 111)
	require.Equal(t, parts[2], all[11:])
}

func testIsolation(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alice, err := store.Append(ctx, "iso-alice", []byte("Hello "))
	require.NoError(t, err)
	bob, err := store.Append(ctx, "iso-bob", []byte("Hi"))
	require.NoError(t, err)

	// containers do not share an offset space.
	require.EqualValues(t, 0, alice.Offset)
	require.EqualValues(t, 0, bob.Offset)

	data, err := store.Read(ctx, "iso-bob", bob)
	require.NoError(t, err)
	require.Equal(t, "Hi", string(data))

	_, err = store.Read(ctx, "iso-bob", alice)
	require.True(t, storage.ErrOutOfRange.Has(err), "%+v", err)
}

func testParallelAppend(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, n = "parallel", 32

	var wg sync.WaitGroup
	chunks := make(storage.Chunks, n)
	data := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		data[i] = testrand.BytesInt(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks[i], errs[i] = store.Append(ctx, user, data[i])
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// appends never overlap and leave no gaps.
	sorted := chunks.Clone()
	sort.Slice(sorted, func(i, k int) bool { return sorted[i].Offset < sorted[k].Offset })
	var next uint64
	for _, chunk := range sorted {
		require.Equal(t, next, chunk.Offset)
		next = chunk.End()
	}

	for i, chunk := range chunks {
		read, err := store.Read(ctx, user, chunk)
		require.NoError(t, err)
		require.Equal(t, data[i], read)
	}
}

func testVerify(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "verify"

	data := testrand.BytesInt(256)
	chunk, err := store.Append(ctx, user, data)
	require.NoError(t, err)

	ok, err := store.Verify(ctx, user, chunk, binstore.Checksum(data))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Verify(ctx, user, chunk, binstore.Checksum(data)+1)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Verify(ctx, user, storage.Chunk{Offset: chunk.End(), Size: 1}, 0)
	require.True(t, storage.ErrOutOfRange.Has(err), "%+v", err)
}

func testDeletionLog(t *testing.T, store binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "deletions"

	removed := storage.Chunks{{Offset: 0, Size: 6}, {Offset: 6, Size: 5}}
	require.NoError(t, store.LogDeletion(ctx, user, "f1", removed, binstore.ReasonDelete))
	require.NoError(t, store.LogDeletion(ctx, user, "f2", storage.Chunks{{Offset: 11, Size: 3}}, binstore.ReasonUpdate))

	log, ok := store.(binstore.DeletionLog)
	if !ok {
		t.Skip("store does not expose its deletion log")
	}

	var entries []binstore.DeletionEntry
	require.NoError(t, log.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		if entry.User == user {
			entries = append(entries, entry)
		}
		return nil
	}))

	require.Len(t, entries, 2)
	require.Equal(t, "f1", entries[0].Key)
	require.Equal(t, removed, entries[0].Chunks)
	require.Equal(t, binstore.ReasonDelete, entries[0].Reason)
	require.False(t, entries[0].Deleted.IsZero())
	require.Equal(t, "f2", entries[1].Key)
	require.Equal(t, binstore.ReasonUpdate, entries[1].Reason)
	require.Greater(t, entries[0].Position, int64(0))
	require.Greater(t, entries[1].Position, entries[0].Position)

	checkpoint := binstore.Checkpoint{
		Position: entries[0].Position,
		Entries:  1,
		Bytes:    removed.TotalSize(),
		ByReason: map[binstore.Reason]uint64{binstore.ReasonDelete: removed.TotalSize()},
	}
	require.NoError(t, log.SaveCheckpoint(ctx, user, checkpoint))

	err := log.SaveCheckpoint(ctx, user, binstore.Checkpoint{Position: -1})
	require.True(t, storage.ErrInvalidInput.Has(err), "%+v", err)

	checkpoints, err := log.Checkpoints(ctx)
	require.NoError(t, err)
	require.Equal(t, checkpoint.Position, checkpoints[user].Position)
	require.EqualValues(t, 1, checkpoints[user].Entries)
	require.Equal(t, removed.TotalSize(), checkpoints[user].ByReason[binstore.ReasonDelete])

	// processed entries are skipped, later ones keep their positions.
	require.NoError(t, store.LogDeletion(ctx, user, "f3", storage.Chunks{{Offset: 14, Size: 1}}, binstore.ReasonDelete))

	var rest []binstore.DeletionEntry
	require.NoError(t, log.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		if entry.User == user {
			rest = append(rest, entry)
		}
		return nil
	}))
	require.Len(t, rest, 2)
	require.Equal(t, "f2", rest[0].Key)
	require.Equal(t, entries[1].Position, rest[0].Position)
	require.Equal(t, "f3", rest[1].Key)
}

// Run is a helper for backends that need a fresh store per test.
func Run(t *testing.T, open func(ctx context.Context, t *testing.T) binstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := open(ctx, t)
	defer ctx.Check(store.Close)

	RunTests(t, store)
}
