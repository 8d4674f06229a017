// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package memmeta_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/haystack/metadata"
	"storj.io/haystack/metadata/memmeta"
	"storj.io/haystack/metadata/metatest"
	"storj.io/haystack/storage"
)

func TestSuite(t *testing.T) {
	metatest.Run(t, func(ctx context.Context, t *testing.T) metadata.DB {
		return memmeta.New()
	})
}

func TestReturnedChunksDoNotAlias(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := memmeta.New()
	defer ctx.Check(db.Close)

	chunks := storage.Chunks{{Offset: 0, Size: 1}}
	require.NoError(t, db.Put(ctx, "u", "k", chunks))
	chunks[0].Size = 99

	got, err := db.Get(ctx, "u", "k")
	require.NoError(t, err)
	require.EqualValues(t, 1, got[0].Size)

	got[0].Size = 42
	again, err := db.Get(ctx, "u", "k")
	require.NoError(t, err)
	require.EqualValues(t, 1, again[0].Size)

	require.Equal(t, 1, db.CallCount.Put)
	require.Equal(t, 2, db.CallCount.Get)
}

func TestCloseForgets(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := memmeta.New()
	require.NoError(t, db.Put(ctx, "u", "k", storage.Chunks{{Offset: 0, Size: 1}}))
	require.NoError(t, db.Close())

	exists, err := db.Exists(ctx, "u", "k")
	require.NoError(t, err)
	require.False(t, exists)
}
