// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package reclaim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/haystack/binstore"
	"storj.io/haystack/binstore/filestore"
	"storj.io/haystack/binstore/memstore"
	"storj.io/haystack/reclaim"
	"storj.io/haystack/storage"
)

func TestScan(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	store := memstore.New()
	defer ctx.Check(store.Close)

	store.Now = func() time.Time { return now.Add(-8 * 24 * time.Hour) }
	require.NoError(t, store.LogDeletion(ctx, "bob", "old", storage.Chunks{{Offset: 0, Size: 100}}, binstore.ReasonDelete))

	store.Now = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, store.LogDeletion(ctx, "alice", "f1", storage.Chunks{{Offset: 0, Size: 6}, {Offset: 6, Size: 5}}, binstore.ReasonDelete))
	require.NoError(t, store.LogDeletion(ctx, "alice", "f2", storage.Chunks{{Offset: 11, Size: 4}}, binstore.ReasonUpdate))

	chore := reclaim.NewChore(zaptest.NewLogger(t), store, reclaim.Config{
		Enabled:  true,
		Interval: time.Hour,
		GraceAge: 7 * 24 * time.Hour,
	})
	chore.Now = func() time.Time { return now }
	defer ctx.Check(chore.Close)

	require.Nil(t, chore.Latest())

	report, err := chore.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, report, chore.Latest())

	require.EqualValues(t, 3, report.Entries)
	require.Equal(t, memory.Size(115), report.Bytes)
	require.Equal(t, memory.Size(100), report.Eligible)

	require.Len(t, report.Users, 2)
	alice, bob := report.Users[0], report.Users[1]
	require.Equal(t, "alice", alice.User)
	require.EqualValues(t, 2, alice.Entries)
	require.Equal(t, memory.Size(15), alice.Bytes)
	require.Equal(t, memory.Size(0), alice.Eligible)
	require.Equal(t, memory.Size(11), alice.ByReason[binstore.ReasonDelete])
	require.Equal(t, memory.Size(4), alice.ByReason[binstore.ReasonUpdate])

	require.Equal(t, "bob", bob.User)
	require.Equal(t, memory.Size(100), bob.Eligible)
}

func TestRun(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	defer ctx.Check(store.Close)
	require.NoError(t, store.LogDeletion(ctx, "alice", "f1", storage.Chunks{{Offset: 0, Size: 6}}, binstore.ReasonDelete))

	chore := reclaim.NewChore(zaptest.NewLogger(t), store, reclaim.Config{Enabled: true, Interval: time.Hour})
	defer ctx.Check(chore.Close)

	ctx.Go(func() error { return chore.Run(ctx) })
	chore.Loop.TriggerWait()

	report := chore.Latest()
	require.NotNil(t, report)
	require.EqualValues(t, 1, report.Entries)
}

func TestCheckpoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	store, err := filestore.Open(zaptest.NewLogger(t), ctx.Dir("store"), filestore.Config{})
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	logAt := func(at time.Time, key string, size uint64, reason binstore.Reason) {
		store.Now = func() time.Time { return at }
		require.NoError(t, store.LogDeletion(ctx, "alice", key, storage.Chunks{{Offset: 0, Size: size}}, reason))
	}
	logAt(now.Add(-9*24*time.Hour), "a", 10, binstore.ReasonDelete)
	logAt(now.Add(-8*24*time.Hour), "b", 20, binstore.ReasonUpdate)
	logAt(now.Add(-time.Hour), "c", 30, binstore.ReasonDelete)

	chore := reclaim.NewChore(zaptest.NewLogger(t), store, reclaim.Config{Enabled: true, Interval: time.Hour, GraceAge: week})
	chore.Now = func() time.Time { return now }
	defer ctx.Check(chore.Close)

	first, err := chore.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, first.Users, 1)
	require.EqualValues(t, 2, first.Users[0].Processed)
	require.Equal(t, memory.Size(60), first.Bytes)
	require.Equal(t, memory.Size(30), first.Eligible)
	require.NotNil(t, first.Disk)
	require.Greater(t, first.Disk.Total, int64(0))

	// only the entry within its grace age is read again.
	var unprocessed []string
	require.NoError(t, store.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		unprocessed = append(unprocessed, entry.Key)
		return nil
	}))
	require.Equal(t, []string{"c"}, unprocessed)

	second, err := chore.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Entries, second.Entries)
	require.Equal(t, first.Bytes, second.Bytes)
	require.Equal(t, first.Eligible, second.Eligible)
	require.Equal(t, first.Users[0].ByReason, second.Users[0].ByReason)

	// an older entry does not skip one still within its grace age.
	logAt(now.Add(-10*24*time.Hour), "d", 40, binstore.ReasonAbandoned)

	third, err := chore.Scan(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, third.Users[0].Processed)
	require.EqualValues(t, 4, third.Entries)
	require.Equal(t, memory.Size(100), third.Bytes)
	require.Equal(t, memory.Size(70), third.Eligible)

	chore.Now = func() time.Time { return now.Add(week) }
	fourth, err := chore.Scan(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, fourth.Users[0].Processed)
	require.Equal(t, memory.Size(100), fourth.Eligible)
	require.Equal(t, memory.Size(40), fourth.Users[0].ByReason[binstore.ReasonAbandoned])
}
