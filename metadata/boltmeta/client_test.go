// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package boltmeta_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/haystack/metadata"
	"storj.io/haystack/metadata/boltmeta"
	"storj.io/haystack/metadata/metatest"
	"storj.io/haystack/storage"
)

func TestSuite(t *testing.T) {
	metatest.Run(t, func(ctx context.Context, t *testing.T) metadata.DB {
		client, err := boltmeta.New(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "index.bolt"))
		require.NoError(t, err)
		return client
	})
}

func TestReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("index.bolt")
	chunks := storage.Chunks{{Offset: 0, Size: 6}, {Offset: 6, Size: 0}}

	client, err := boltmeta.New(zaptest.NewLogger(t), path)
	require.NoError(t, err)

	require.NoError(t, client.Put(ctx, "alice", "f1", chunks))
	err = client.Put(ctx, "alice", "empty", storage.Chunks{})
	require.True(t, storage.ErrInvalidInput.Has(err), "%+v", err)
	require.NoError(t, client.Close())

	client, err = boltmeta.New(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer ctx.Check(client.Close)

	exists, err := client.Exists(ctx, "alice", "empty")
	require.NoError(t, err)
	require.False(t, exists)

	got, err := client.Get(ctx, "alice", "f1")
	require.NoError(t, err)
	require.Equal(t, chunks, got)
}
