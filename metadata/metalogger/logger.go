// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metalogger wraps a metadata.DB and logs every call at debug level.
package metalogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var mon = monkit.Package()

var id int64

var _ metadata.DB = (*Logger)(nil)

// Logger implements a zap.Logger for metadata.DB.
type Logger struct {
	log *zap.Logger
	db  metadata.DB
}

// New creates a new Logger with log and db.
func New(log *zap.Logger, db metadata.DB) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), db}
}

// Put logs and forwards to the wrapped index.
func (db *Logger) Put(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = db.db.Put(ctx, user, key, chunks)
	db.log.Debug("Put", zap.String("user", user), zap.String("key", key), zap.Stringer("chunks", chunks), zap.Error(err))
	return err
}

// Get logs and forwards to the wrapped index.
func (db *Logger) Get(ctx context.Context, user, key string) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)
	chunks, err := db.db.Get(ctx, user, key)
	db.log.Debug("Get", zap.String("user", user), zap.String("key", key), zap.Int("chunks", len(chunks)), zap.Error(err))
	return chunks, err
}

// Update logs and forwards to the wrapped index.
func (db *Logger) Update(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = db.db.Update(ctx, user, key, chunks)
	db.log.Debug("Update", zap.String("user", user), zap.String("key", key), zap.Stringer("chunks", chunks), zap.Error(err))
	return err
}

// AppendChunk logs and forwards to the wrapped index.
func (db *Logger) AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = db.db.AppendChunk(ctx, user, key, chunk)
	db.log.Debug("AppendChunk", zap.String("user", user), zap.String("key", key), zap.Stringer("chunk", chunk), zap.Error(err))
	return err
}

// Delete logs and forwards to the wrapped index.
func (db *Logger) Delete(ctx context.Context, user, key string) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)
	removed, err := db.db.Delete(ctx, user, key)
	db.log.Debug("Delete", zap.String("user", user), zap.String("key", key), zap.Stringer("removed", removed), zap.Error(err))
	return removed, err
}

// Rename logs and forwards to the wrapped index.
func (db *Logger) Rename(ctx context.Context, user, oldKey, newKey string) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = db.db.Rename(ctx, user, oldKey, newKey)
	db.log.Debug("Rename", zap.String("user", user), zap.String("old", oldKey), zap.String("new", newKey), zap.Error(err))
	return err
}

// Exists logs and forwards to the wrapped index.
func (db *Logger) Exists(ctx context.Context, user, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	exists, err := db.db.Exists(ctx, user, key)
	db.log.Debug("Exists", zap.String("user", user), zap.String("key", key), zap.Bool("exists", exists), zap.Error(err))
	return exists, err
}

// List logs and forwards to the wrapped index.
func (db *Logger) List(ctx context.Context, user string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)
	keys, err := db.db.List(ctx, user)
	db.log.Debug("List", zap.String("user", user), zap.Int("keys", len(keys)), zap.Error(err))
	return keys, err
}

// Close closes the wrapped index.
func (db *Logger) Close() error {
	db.log.Debug("Close")
	return db.db.Close()
}
