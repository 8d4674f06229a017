// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metalogger_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/common/testcontext"
	"storj.io/haystack/metadata/memmeta"
	"storj.io/haystack/metadata/metalogger"
	"storj.io/haystack/metadata/metatest"
	"storj.io/haystack/storage"
)

func TestSuite(t *testing.T) {
	db := metalogger.New(zaptest.NewLogger(t), memmeta.New())
	defer func() { require.NoError(t, db.Close()) }()

	metatest.RunTests(t, db)
}

func TestLogsCalls(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	core, logs := observer.New(zapcore.DebugLevel)
	db := metalogger.New(zap.New(core), memmeta.New())
	defer ctx.Check(db.Close)

	require.NoError(t, db.Put(ctx, "alice", "f1", storage.Chunks{{Offset: 0, Size: 6}}))
	_, err := db.Get(ctx, "alice", "missing")
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "Put", entries[0].Message)
	require.Equal(t, "[0+6]", entries[0].ContextMap()["chunks"])
	require.Equal(t, "Get", entries[1].Message)
	require.Contains(t, entries[1].ContextMap(), "error")
}
