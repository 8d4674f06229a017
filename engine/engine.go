// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package engine implements the object operations on top of a metadata index
// and a binary store.
package engine

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/common/context2"
	"storj.io/common/memory"
	"storj.io/drpc/drpcsignal"
	"storj.io/haystack/binstore"
	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var mon = monkit.Package()

// Config contains the limits applied to incoming objects.
type Config struct {
	MaxPartSize memory.Size `help:"largest accepted payload part" default:"64MiB"`
	MaxParts    int         `help:"largest accepted number of parts in a single put or update" default:"1024"`
}

// Engine serves object operations for many users. Operations on the same
// (user, key) are totally ordered, and within one user metadata commits
// happen in the order in which their bytes were appended.
type Engine struct {
	log    *zap.Logger
	meta   metadata.DB
	blobs  binstore.Store
	config Config

	closed drpcsignal.Signal
	keys   *KeyLock
	queue  *commitQueue
}

// New creates an engine using the provided backends. The engine does not
// own the backends.
func New(log *zap.Logger, meta metadata.DB, blobs binstore.Store, config Config) *Engine {
	engine := &Engine{
		log:    log,
		meta:   meta,
		blobs:  blobs,
		config: config,
	}
	engine.keys = NewKeyLock(&engine.closed)
	engine.queue = newCommitQueue(&engine.closed)
	return engine
}

// Checksum returns the checksum of a payload part as expected by Verify.
func Checksum(data []byte) uint64 { return binstore.Checksum(data) }

func (engine *Engine) validateParts(parts [][]byte) error {
	if len(parts) == 0 {
		return storage.ErrInvalidInput.New("no payload parts")
	}
	if engine.config.MaxParts > 0 && len(parts) > engine.config.MaxParts {
		return storage.ErrInvalidInput.New("%d parts exceed the limit of %d", len(parts), engine.config.MaxParts)
	}
	for _, part := range parts {
		if err := engine.validatePart(part); err != nil {
			return err
		}
	}
	return nil
}

func (engine *Engine) validatePart(part []byte) error {
	if len(part) == 0 {
		return storage.ErrInvalidInput.New("empty payload")
	}
	if engine.config.MaxPartSize > 0 && int64(len(part)) > engine.config.MaxPartSize.Int64() {
		return storage.ErrInvalidInput.New("payload of %d bytes exceeds %v", len(part), engine.config.MaxPartSize)
	}
	return nil
}

// appendParts appends parts in the user's append section and returns the
// resulting chunks with the commit ticket.
func (engine *Engine) appendParts(ctx context.Context, user string, parts [][]byte) (chunks storage.Chunks, t *ticket, err error) {
	t, err = engine.queue.Append(ctx, user, func() error {
		chunks, err = engine.blobs.AppendBatch(ctx, user, parts)
		return err
	})
	return chunks, t, err
}

// commit runs fn once every earlier append of the user has committed. When
// the commit does not happen, the appended chunks are recorded as abandoned.
func (engine *Engine) commit(ctx context.Context, user, key string, t *ticket, chunks storage.Chunks, fn func() error) (err error) {
	defer t.Release()
	defer func() {
		if err != nil {
			engine.logDeletion(ctx, user, key, chunks, binstore.ReasonAbandoned)
		}
	}()

	if err := t.Wait(ctx, &engine.closed); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// logDeletion records unreferenced chunks. It runs after the outcome of the
// operation is decided, so it ignores cancellation and never fails the
// operation.
func (engine *Engine) logDeletion(ctx context.Context, user, key string, chunks storage.Chunks, reason binstore.Reason) {
	if len(chunks) == 0 {
		return
	}
	err := engine.blobs.LogDeletion(context2.WithoutCancellation(ctx), user, key, chunks, reason)
	if err != nil {
		mon.Counter("deletion_log_failures").Inc(1)
		engine.log.Warn("failed to record unreferenced chunks",
			zap.String("user", user),
			zap.String("key", key),
			zap.String("reason", string(reason)),
			zap.Stringer("chunks", chunks),
			zap.Error(err))
	}
}

// Put stores a new object made of parts.
func (engine *Engine) Put(ctx context.Context, user, key string, parts [][]byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return err
	}
	if err := engine.validateParts(parts); err != nil {
		return err
	}

	unlock, err := engine.keys.Lock(ctx, user, key)
	if err != nil {
		return err
	}
	defer unlock()

	exists, err := engine.meta.Exists(ctx, user, key)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrAlreadyExists.New("%q", key)
	}

	chunks, t, err := engine.appendParts(ctx, user, parts)
	if err != nil {
		return err
	}

	return engine.commit(ctx, user, key, t, chunks, func() error {
		return engine.meta.Put(ctx, user, key, chunks)
	})
}

// Get returns the content of an object.
func (engine *Engine) Get(ctx context.Context, user, key string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return nil, err
	}

	chunks, err := engine.meta.Get(ctx, user, key)
	if err != nil {
		return nil, err
	}
	// chunk bytes are never rewritten, so no lock is needed to read them.
	return binstore.ReadAll(ctx, engine.blobs, user, chunks)
}

// Update replaces the content of an existing object.
func (engine *Engine) Update(ctx context.Context, user, key string, parts [][]byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return err
	}
	if err := engine.validateParts(parts); err != nil {
		return err
	}

	unlock, err := engine.keys.Lock(ctx, user, key)
	if err != nil {
		return err
	}
	defer unlock()

	previous, err := engine.meta.Get(ctx, user, key)
	if err != nil {
		return err
	}

	chunks, t, err := engine.appendParts(ctx, user, parts)
	if err != nil {
		return err
	}

	err = engine.commit(ctx, user, key, t, chunks, func() error {
		return engine.meta.Update(ctx, user, key, chunks)
	})
	if err != nil {
		return err
	}

	engine.logDeletion(ctx, user, key, previous, binstore.ReasonUpdate)
	return nil
}

// Append extends an existing object with part.
func (engine *Engine) Append(ctx context.Context, user, key string, part []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return err
	}
	if err := engine.validatePart(part); err != nil {
		return err
	}

	unlock, err := engine.keys.Lock(ctx, user, key)
	if err != nil {
		return err
	}
	defer unlock()

	exists, err := engine.meta.Exists(ctx, user, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound.New("%q", key)
	}

	chunks, t, err := engine.appendParts(ctx, user, [][]byte{part})
	if err != nil {
		return err
	}

	return engine.commit(ctx, user, key, t, chunks, func() error {
		return engine.meta.AppendChunk(ctx, user, key, chunks[0])
	})
}

// Delete removes an object. Its chunks are recorded in the deletion log.
func (engine *Engine) Delete(ctx context.Context, user, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return err
	}

	unlock, err := engine.keys.Lock(ctx, user, key)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	removed, err := engine.meta.Delete(ctx, user, key)
	if err != nil {
		return err
	}

	engine.logDeletion(ctx, user, key, removed, binstore.ReasonDelete)
	return nil
}

// UpdateKey renames an object. No bytes move.
func (engine *Engine) UpdateKey(ctx context.Context, user, oldKey, newKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, oldKey); err != nil {
		return err
	}
	if err := storage.ValidateKey(newKey); err != nil {
		return err
	}

	unlock, err := engine.keys.LockPair(ctx, user, oldKey, newKey)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return engine.meta.Rename(ctx, user, oldKey, newKey)
}

// Exists reports whether the object exists.
func (engine *Engine) Exists(ctx context.Context, user, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return false, err
	}
	return engine.meta.Exists(ctx, user, key)
}

// List returns the keys of user in ascending order.
func (engine *Engine) List(ctx context.Context, user string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUser(user); err != nil {
		return nil, err
	}
	return engine.meta.List(ctx, user)
}

// Verify checks every chunk of an object against the checksum of the part
// that created it, in chunk order. It reports false on the first mismatch.
func (engine *Engine) Verify(ctx context.Context, user, key string, checksums []uint64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateUserKey(user, key); err != nil {
		return false, err
	}

	chunks, err := engine.meta.Get(ctx, user, key)
	if err != nil {
		return false, err
	}
	if len(chunks) != len(checksums) {
		return false, storage.ErrInvalidInput.New("object has %d chunks, got %d checksums", len(chunks), len(checksums))
	}

	for i, chunk := range chunks {
		ok, err := engine.blobs.Verify(ctx, user, chunk, checksums[i])
		if err != nil {
			return false, err
		}
		if !ok {
			mon.Event("verify_mismatch")
			engine.log.Warn("chunk checksum mismatch",
				zap.String("user", user), zap.String("key", key), zap.Int("chunk", i), zap.Stringer("range", chunk))
			return false, nil
		}
	}
	return true, nil
}

// Close makes every waiting and future mutation fail. It does not close the
// backends.
func (engine *Engine) Close() error {
	engine.closed.Set(storage.ErrBackend.New("engine closed"))
	return nil
}
