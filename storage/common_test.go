// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/haystack/storage"
)

func TestValidateUser(t *testing.T) {
	for _, user := range []string{"alice", "bob-2", "user.with.dots", "ünïcode"} {
		require.NoError(t, storage.ValidateUser(user), user)
	}

	for _, user := range []string{
		"", ".", "..", "a/b", `a\b`, "nul\x00", "\xff\xfe",
		strings.Repeat("x", storage.MaxUserLength+1),
	} {
		err := storage.ValidateUser(user)
		require.Error(t, err, user)
		require.True(t, storage.ErrInvalidInput.Has(err), user)
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"f1", "dir/with/slashes", ".", strings.Repeat("k", storage.MaxKeyLength)} {
		require.NoError(t, storage.ValidateKey(key), key)
	}

	for _, key := range []string{"", "nul\x00", "\xff", strings.Repeat("k", storage.MaxKeyLength+1)} {
		err := storage.ValidateKey(key)
		require.True(t, storage.ErrInvalidInput.Has(err), key)
	}
}

func TestChunksEncoding(t *testing.T) {
	chunks := storage.Chunks{{Offset: 100, Size: 200}, {Offset: 300, Size: 400}, {Offset: 1 << 40, Size: 1}}

	data := storage.EncodeChunks(chunks)
	require.Len(t, data, 3*16)

	decoded, err := storage.DecodeChunks(data)
	require.NoError(t, err)
	require.Equal(t, chunks, decoded)

	// appending an encoded chunk extends the list in order.
	extra, err := storage.Chunk{Offset: 7, Size: 8}.MarshalBinary()
	require.NoError(t, err)
	decoded, err = storage.DecodeChunks(append(data, extra...))
	require.NoError(t, err)
	require.Equal(t, append(chunks.Clone(), storage.Chunk{Offset: 7, Size: 8}), decoded)

	_, err = storage.DecodeChunks(data[:17])
	require.True(t, storage.ErrBackend.Has(err))

	empty, err := storage.DecodeChunks(nil)
	require.NoError(t, err)
	require.Len(t, empty, 0)
}

func TestChunksHelpers(t *testing.T) {
	chunks := storage.Chunks{{Offset: 0, Size: 6}, {Offset: 6, Size: 5}}
	require.EqualValues(t, 11, chunks.TotalSize())
	require.EqualValues(t, 11, chunks[1].End())

	clone := chunks.Clone()
	clone[0].Size = 99
	require.EqualValues(t, 6, chunks[0].Size)

	require.Nil(t, storage.Chunks(nil).Clone())
	require.Equal(t, "[6+5]", chunks[1].String())
}
