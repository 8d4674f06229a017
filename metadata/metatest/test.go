// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metatest contains the tests every metadata.DB implementation must pass.
package metatest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

// RunTests runs common metadata.DB tests.
func RunTests(t *testing.T, db metadata.DB) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, db) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, db) })
	t.Run("EmptyChunks", func(t *testing.T) { testEmptyChunks(t, db) })
	t.Run("AppendOrder", func(t *testing.T) { testAppendOrder(t, db) })
	t.Run("Rename", func(t *testing.T) { testRename(t, db) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, db) })
	t.Run("List", func(t *testing.T) { testList(t, db) })
	t.Run("ParallelPut", func(t *testing.T) { testParallelPut(t, db) })
	t.Run("ParallelAppend", func(t *testing.T) { testParallelAppend(t, db) })
}

func testCRUD(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key = "crud", "object"
	chunks := storage.Chunks{{Offset: 100, Size: 200}, {Offset: 300, Size: 400}}

	exists, err := db.Exists(ctx, user, key)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, db.Put(ctx, user, key, chunks))

	exists, err = db.Exists(ctx, user, key)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, chunks, got)

	err = db.Put(ctx, user, key, storage.Chunks{{Offset: 1, Size: 1}})
	require.True(t, storage.ErrAlreadyExists.Has(err), "%+v", err)

	// a failed put must not have touched the record.
	got, err = db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, chunks, got)

	replaced := storage.Chunks{{Offset: 500, Size: 600}}
	require.NoError(t, db.Update(ctx, user, key, replaced))
	got, err = db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, replaced, got)

	removed, err := db.Delete(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, replaced, removed)

	exists, err = db.Exists(ctx, user, key)
	require.NoError(t, err)
	require.False(t, exists)

	// a deleted key behaves as a fresh key.
	fresh := storage.Chunks{{Offset: 700, Size: 1}}
	require.NoError(t, db.Put(ctx, user, key, fresh))
	got, err = db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, fresh, got)

	_, err = db.Delete(ctx, user, key)
	require.NoError(t, err)
}

func testMissing(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key = "missing", "nothing"

	_, err := db.Get(ctx, user, key)
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	err = db.Update(ctx, user, key, storage.Chunks{{Offset: 0, Size: 1}})
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	err = db.AppendChunk(ctx, user, key, storage.Chunk{Offset: 0, Size: 1})
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	_, err = db.Delete(ctx, user, key)
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	err = db.Rename(ctx, user, key, "other")
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	// none of the failures may have created a record.
	for _, k := range []string{key, "other"} {
		exists, err := db.Exists(ctx, user, k)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func testEmptyChunks(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key = "empty", "object"

	for _, chunks := range []storage.Chunks{nil, {}} {
		err := db.Put(ctx, user, key, chunks)
		require.True(t, storage.ErrInvalidInput.Has(err), "%+v", err)
	}

	exists, err := db.Exists(ctx, user, key)
	require.NoError(t, err)
	require.False(t, exists)

	chunks := storage.Chunks{{Offset: 0, Size: 1}}
	require.NoError(t, db.Put(ctx, user, key, chunks))

	// an update may not leave a live record without chunks.
	err = db.Update(ctx, user, key, storage.Chunks{})
	require.True(t, storage.ErrInvalidInput.Has(err), "%+v", err)

	got, err := db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, chunks, got)

	_, err = db.Delete(ctx, user, key)
	require.NoError(t, err)
}

func testAppendOrder(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key = "append", "log"

	expected := storage.Chunks{{Offset: 0, Size: 6}}
	require.NoError(t, db.Put(ctx, user, key, expected))

	for i := 1; i <= 10; i++ {
		chunk := storage.Chunk{Offset: uint64(100 * i), Size: uint64(i)}
		require.NoError(t, db.AppendChunk(ctx, user, key, chunk))
		expected = append(expected, chunk)
	}

	got, err := db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Equal(t, expected, got)

	_, err = db.Delete(ctx, user, key)
	require.NoError(t, err)
}

func testRename(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "rename"
	a := storage.Chunks{{Offset: 0, Size: 10}, {Offset: 20, Size: 5}}
	b := storage.Chunks{{Offset: 10, Size: 10}}

	require.NoError(t, db.Put(ctx, user, "a", a))
	require.NoError(t, db.Put(ctx, user, "b", b))

	// renaming onto an existing key fails and leaves both keys unchanged.
	err := db.Rename(ctx, user, "a", "b")
	require.True(t, storage.ErrAlreadyExists.Has(err), "%+v", err)

	got, err := db.Get(ctx, user, "a")
	require.NoError(t, err)
	require.Equal(t, a, got)
	got, err = db.Get(ctx, user, "b")
	require.NoError(t, err)
	require.Equal(t, b, got)

	// renaming a key onto itself is renaming onto an existing key.
	err = db.Rename(ctx, user, "a", "a")
	require.True(t, storage.ErrAlreadyExists.Has(err), "%+v", err)

	require.NoError(t, db.Rename(ctx, user, "a", "c"))

	_, err = db.Get(ctx, user, "a")
	require.True(t, storage.ErrNotFound.Has(err), "%+v", err)

	got, err = db.Get(ctx, user, "c")
	require.NoError(t, err)
	require.Equal(t, a, got)

	// the renamed record keeps accepting appends in order.
	require.NoError(t, db.AppendChunk(ctx, user, "c", storage.Chunk{Offset: 30, Size: 1}))
	got, err = db.Get(ctx, user, "c")
	require.NoError(t, err)
	require.Equal(t, append(a.Clone(), storage.Chunk{Offset: 30, Size: 1}), got)

	for _, k := range []string{"b", "c"} {
		_, err := db.Delete(ctx, user, k)
		require.NoError(t, err)
	}
}

func testIsolation(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const key = "shared-name"
	alice := storage.Chunks{{Offset: 0, Size: 5}}
	bob := storage.Chunks{{Offset: 0, Size: 8}}

	require.NoError(t, db.Put(ctx, "iso-alice", key, alice))
	require.NoError(t, db.Put(ctx, "iso-bob", key, bob))

	got, err := db.Get(ctx, "iso-alice", key)
	require.NoError(t, err)
	require.Equal(t, alice, got)

	_, err = db.Delete(ctx, "iso-bob", key)
	require.NoError(t, err)

	exists, err := db.Exists(ctx, "iso-alice", key)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = db.Exists(ctx, "iso-carol", key)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = db.Delete(ctx, "iso-alice", key)
	require.NoError(t, err)
}

func testList(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user = "list"

	type listTest struct {
		Name     string
		Put      []string
		Delete   []string
		Expected []string
	}

	tests := []listTest{
		{"empty user", nil, nil, nil},
		{"sorted", []string{"c", "a", "b/nested", "b"}, nil, []string{"a", "b", "b/nested", "c"}},
		{"after delete", nil, []string{"b"}, []string{"a", "b/nested", "c"}},
		{"put again", []string{"b", "\u00e9"}, nil, []string{"a", "b", "b/nested", "c", "\u00e9"}},
	}

	require.NoError(t, db.Put(ctx, "list-other", "z", storage.Chunks{{Offset: 0, Size: 1}}))

	var keys []string
	for _, test := range tests {
		for _, key := range test.Put {
			require.NoError(t, db.Put(ctx, user, key, storage.Chunks{{Offset: 0, Size: 1}}), test.Name)
		}
		for _, key := range test.Delete {
			_, err := db.Delete(ctx, user, key)
			require.NoError(t, err, test.Name)
		}

		var err error
		keys, err = db.List(ctx, user)
		require.NoError(t, err, test.Name)
		if diff := cmp.Diff(test.Expected, keys, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s: (-want +got)\n%s", test.Name, diff)
		}
	}

	for _, key := range keys {
		_, err := db.Delete(ctx, user, key)
		require.NoError(t, err)
	}
	_, err := db.Delete(ctx, "list-other", "z")
	require.NoError(t, err)
}

func testParallelPut(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key, n = "parallel", "contended", 16

	var wg sync.WaitGroup
	var succeeded, existed int64
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Put(ctx, user, key, storage.Chunks{{Offset: uint64(i), Size: 1}})
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case storage.ErrAlreadyExists.Has(err):
				atomic.AddInt64(&existed, 1)
			default:
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, succeeded)
	require.EqualValues(t, n-1, existed)

	_, err := db.Delete(ctx, user, key)
	require.NoError(t, err)
}

func testParallelAppend(t *testing.T, db metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	const user, key, n = "parallel-append", "target", 16

	require.NoError(t, db.Put(ctx, user, key, storage.Chunks{{Offset: 0, Size: 1}}))

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = db.AppendChunk(ctx, user, key, storage.Chunk{Offset: uint64(i + 1), Size: 1})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// no append may be lost, whatever order they landed in.
	got, err := db.Get(ctx, user, key)
	require.NoError(t, err)
	require.Len(t, got, n+1)
	seen := make(map[uint64]bool)
	for _, chunk := range got {
		seen[chunk.Offset] = true
	}
	for i := 0; i <= n; i++ {
		require.True(t, seen[uint64(i)], "missing chunk "+strconv.Itoa(i))
	}

	_, err = db.Delete(ctx, user, key)
	require.NoError(t, err)
}

// Run is a helper for backends that need a fresh database per test.
func Run(t *testing.T, open func(ctx context.Context, t *testing.T) metadata.DB) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := open(ctx, t)
	defer ctx.Check(db.Close)

	RunTests(t, db)
}
