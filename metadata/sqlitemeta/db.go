// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqlitemeta implements the metadata index on top of sqlite.
package sqlitemeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // register sqlite to sql

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var (
	mon = monkit.Package()

	// Error is the default sqlitemeta error class.
	Error = errs.Class("sqlitemeta")
)

var _ metadata.DB = (*DB)(nil)

// DB is a metadata index stored in a single sqlite database with one row per
// (user, key).
type DB struct {
	log *zap.Logger
	mu  sync.Mutex
	db  *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, log *zap.Logger, path string) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, Error.Wrap(err)
	}

	sqlite, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_busy_timeout=5000", path))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(sqlite.Close()))
		}
	}()

	// try to enable write-ahead-logging
	_, _ = sqlite.ExecContext(ctx, `PRAGMA journal_mode = WAL`)

	_, err = sqlite.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS objects (
			user   TEXT NOT NULL,
			key    TEXT NOT NULL,
			chunks BLOB NOT NULL,
			PRIMARY KEY (user, key)
		)`)
	if err != nil {
		return nil, Error.New("unable to create schema: %v", err)
	}

	log.Debug("opened metadata database", zap.String("path", path))

	return &DB{log: log, db: sqlite}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

func (db *DB) locked() func() {
	db.mu.Lock()
	return db.mu.Unlock
}

// withTx runs fn inside a transaction and commits it when fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return storage.ErrBackend.Wrap(tx.Commit())
}

func getChunks(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, user, key string) (storage.Chunks, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT chunks FROM objects WHERE user = ? AND key = ?`, user, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	return storage.DecodeChunks(data)
}

// Put creates the record for key.
func (db *DB) Put(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}
	defer db.locked()()

	res, err := db.db.ExecContext(ctx,
		`INSERT INTO objects (user, key, chunks) VALUES (?, ?, ?) ON CONFLICT (user, key) DO NOTHING`,
		user, key, storage.EncodeChunks(chunks))
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	if affected == 0 {
		return storage.ErrAlreadyExists.New("%q", key)
	}
	return nil
}

// Get returns the chunk list of key.
func (db *DB) Get(ctx context.Context, user, key string) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	return getChunks(ctx, db.db, user, key)
}

// Update replaces the chunk list of key.
func (db *DB) Update(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}
	defer db.locked()()

	res, err := db.db.ExecContext(ctx,
		`UPDATE objects SET chunks = ? WHERE user = ? AND key = ?`,
		storage.EncodeChunks(chunks), user, key)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	if affected == 0 {
		return storage.ErrNotFound.New("%q", key)
	}
	return nil
}

// AppendChunk adds chunk to the end of the list of key.
func (db *DB) AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		chunks, err := getChunks(ctx, tx, user, key)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk)

		_, err = tx.ExecContext(ctx,
			`UPDATE objects SET chunks = ? WHERE user = ? AND key = ?`,
			storage.EncodeChunks(chunks), user, key)
		return storage.ErrBackend.Wrap(err)
	})
}

// Delete removes key and returns its chunk list.
func (db *DB) Delete(ctx context.Context, user, key string) (removed storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		removed, err = getChunks(ctx, tx, user, key)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM objects WHERE user = ? AND key = ?`, user, key)
		return storage.ErrBackend.Wrap(err)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Rename moves oldKey to newKey.
func (db *DB) Rename(ctx context.Context, user, oldKey, newKey string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChunks(ctx, tx, user, oldKey); err != nil {
			return err
		}

		_, err := getChunks(ctx, tx, user, newKey)
		switch {
		case err == nil:
			return storage.ErrAlreadyExists.New("%q", newKey)
		case !storage.ErrNotFound.Has(err):
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE objects SET key = ? WHERE user = ? AND key = ?`,
			newKey, user, oldKey)
		return storage.ErrBackend.Wrap(err)
	})
}

// Exists reports whether key exists.
func (db *DB) Exists(ctx context.Context, user, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	var count int
	err = db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE user = ? AND key = ?`, user, key).Scan(&count)
	if err != nil {
		return false, storage.ErrBackend.Wrap(err)
	}
	return count > 0, nil
}

// List returns the sorted keys of user.
func (db *DB) List(ctx context.Context, user string) (keys []string, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	rows, err := db.db.QueryContext(ctx, `SELECT key FROM objects WHERE user = ? ORDER BY key`, user)
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	defer func() { err = errs.Combine(err, storage.ErrBackend.Wrap(rows.Close())) }()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storage.ErrBackend.Wrap(err)
		}
		keys = append(keys, key)
	}
	return keys, storage.ErrBackend.Wrap(rows.Err())
}
