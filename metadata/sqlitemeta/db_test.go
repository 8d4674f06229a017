// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sqlitemeta_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/haystack/metadata"
	"storj.io/haystack/metadata/metatest"
	"storj.io/haystack/metadata/sqlitemeta"
	"storj.io/haystack/storage"
)

func TestSuite(t *testing.T) {
	metatest.Run(t, func(ctx context.Context, t *testing.T) metadata.DB {
		db, err := sqlitemeta.Open(ctx, zaptest.NewLogger(t), filepath.Join(t.TempDir(), "meta", "index.db"))
		require.NoError(t, err)
		return db
	})
}

func TestPersistence(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("index.db")
	chunks := storage.Chunks{{Offset: 0, Size: 6}, {Offset: 11, Size: 3}}

	db, err := sqlitemeta.Open(ctx, zaptest.NewLogger(t), path)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, "alice", "f1", chunks))
	require.NoError(t, db.Put(ctx, "alice", "single", storage.Chunks{{Offset: 6, Size: 0}}))
	require.NoError(t, db.Close())

	db, err = sqlitemeta.Open(ctx, zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	got, err := db.Get(ctx, "alice", "f1")
	require.NoError(t, err)
	require.Equal(t, chunks, got)

	got, err = db.Get(ctx, "alice", "single")
	require.NoError(t, err)
	require.Equal(t, storage.Chunks{{Offset: 6, Size: 0}}, got)

	keys, err := db.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"f1", "single"}, keys)
}
