// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package reclaim reports how much container space the deletion log marks as
// reclaimable.
package reclaim

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/common/memory"
	"storj.io/common/sync2"
	"storj.io/haystack/binstore"
)

var mon = monkit.Package()

// Config defines parameters for the reclamation chore.
type Config struct {
	Enabled  bool          `help:"whether to periodically report reclaimable space" default:"true"`
	Interval time.Duration `help:"how frequently the deletion log is scanned" default:"5m0s"`
	GraceAge time.Duration `help:"how long deleted chunks are kept before they count as eligible for reclamation" default:"168h0m0s"`
}

// UserReport summarizes the deletion log of one user.
type UserReport struct {
	User     string
	Entries  int64
	Bytes    memory.Size
	Eligible memory.Size
	ByReason map[binstore.Reason]memory.Size

	// Processed is the number of entries covered by the user's checkpoint.
	Processed int64
}

// Report summarizes the whole deletion log.
type Report struct {
	Created time.Time
	Users   []UserReport

	Entries  int64
	Bytes    memory.Size
	Eligible memory.Size

	// Disk is the usage of the file system holding the containers, when the
	// store reports one.
	Disk *binstore.DiskSpace
}

// Chore periodically builds a Report from the deletion log. It never
// modifies containers.
//
// Entries past their grace age are folded into the user's checkpoint, in log
// order, so later scans only read the entries written since. Folding stops at
// the first entry that is still within its grace age.
//
// architecture: Chore
type Chore struct {
	log       *zap.Logger
	deletions binstore.DeletionLog
	config    Config

	Loop *sync2.Cycle

	mu     sync.Mutex
	latest *Report

	// Now is used as the reference time of a report.
	Now func() time.Time
}

// NewChore creates a new reclamation chore.
func NewChore(log *zap.Logger, deletions binstore.DeletionLog, config Config) *Chore {
	return &Chore{
		log:       log,
		deletions: deletions,
		config:    config,
		Loop:      sync2.NewCycle(config.Interval),
		Now:       time.Now,
	}
}

// Run runs the chore until ctx is canceled.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return chore.Loop.Run(ctx, func(ctx context.Context) error {
		report, err := chore.Scan(ctx)
		if err != nil {
			chore.log.Error("error during deletion log scan", zap.Error(err))
			return nil
		}
		if report.Entries > 0 {
			fields := []zap.Field{
				zap.Int("users", len(report.Users)),
				zap.Int64("entries", report.Entries),
				zap.Stringer("bytes", report.Bytes),
				zap.Stringer("eligible", report.Eligible),
			}
			if report.Disk != nil {
				fields = append(fields, zap.Stringer("free", memory.Size(report.Disk.Free)))
			}
			chore.log.Info("reclaimable space", fields...)
		}
		return nil
	})
}

// Close stops the chore.
func (chore *Chore) Close() (err error) {
	chore.Loop.Close()
	return nil
}

// Latest returns the report of the last successful scan, or nil.
func (chore *Chore) Latest() *Report {
	chore.mu.Lock()
	defer chore.mu.Unlock()
	return chore.latest
}

// Scan walks the deletion log and builds a new report.
func (chore *Chore) Scan(ctx context.Context) (_ *Report, err error) {
	defer mon.Task()(&ctx)(&err)

	now := chore.Now()
	users := make(map[string]*UserReport)
	getUser := func(name string) *UserReport {
		user, ok := users[name]
		if !ok {
			user = &UserReport{User: name, ByReason: make(map[binstore.Reason]memory.Size)}
			users[name] = user
		}
		return user
	}

	checkpoints, err := chore.deletions.Checkpoints(ctx)
	if err != nil {
		return nil, err
	}
	for name, checkpoint := range checkpoints {
		user := getUser(name)
		user.Entries += checkpoint.Entries
		user.Processed += checkpoint.Entries
		user.Bytes += memory.Size(checkpoint.Bytes)
		user.Eligible += memory.Size(checkpoint.Bytes)
		for reason, size := range checkpoint.ByReason {
			user.ByReason[reason] += memory.Size(size)
		}
	}

	advanced := make(map[string]binstore.Checkpoint)
	blocked := make(map[string]bool)

	err = chore.deletions.IterateDeletions(ctx, func(entry binstore.DeletionEntry) error {
		user := getUser(entry.User)

		size := memory.Size(entry.Chunks.TotalSize())
		user.Entries++
		user.Bytes += size
		user.ByReason[entry.Reason] += size

		if now.Sub(entry.Deleted) < chore.config.GraceAge {
			blocked[entry.User] = true
			return nil
		}
		user.Eligible += size

		if blocked[entry.User] {
			return nil
		}
		checkpoint, ok := advanced[entry.User]
		if !ok {
			checkpoint = checkpoints[entry.User].Clone()
		}
		checkpoint.Position = entry.Position
		checkpoint.Entries++
		checkpoint.Bytes += entry.Chunks.TotalSize()
		checkpoint.ByReason[entry.Reason] += entry.Chunks.TotalSize()
		checkpoint.Updated = now
		advanced[entry.User] = checkpoint
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name, checkpoint := range advanced {
		if err := chore.deletions.SaveCheckpoint(ctx, name, checkpoint); err != nil {
			// the next scan reads the same entries again.
			chore.log.Warn("failed to save deletion log checkpoint", zap.String("user", name), zap.Error(err))
			continue
		}
		users[name].Processed = checkpoint.Entries
	}

	report := &Report{Created: now}
	for _, user := range users {
		report.Users = append(report.Users, *user)
		report.Entries += user.Entries
		report.Bytes += user.Bytes
		report.Eligible += user.Eligible
	}
	sort.Slice(report.Users, func(i, k int) bool { return report.Users[i].User < report.Users[k].User })

	if reporter, ok := chore.deletions.(binstore.SpaceReporter); ok {
		space, err := reporter.DiskSpace(ctx)
		if err != nil {
			chore.log.Warn("failed to read disk space", zap.Error(err))
		} else {
			report.Disk = &space
		}
	}

	mon.IntVal("reclaimable_bytes").Observe(report.Bytes.Int64())
	mon.IntVal("eligible_bytes").Observe(report.Eligible.Int64())

	chore.mu.Lock()
	chore.latest = report
	chore.mu.Unlock()

	return report, nil
}
