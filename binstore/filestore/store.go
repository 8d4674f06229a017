// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filestore implements binstore.Store with one container file per
// user inside a single directory.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/disk"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/haystack/binstore"
	"storj.io/haystack/storage"
)

var (
	mon = monkit.Package()

	// Error is the default filestore error class.
	Error = errs.Class("filestore")
)

var (
	_ binstore.Store         = (*Store)(nil)
	_ binstore.DeletionLog   = (*Store)(nil)
	_ binstore.SpaceReporter = (*Store)(nil)
)

const (
	containerExt  = ".bin"
	deletionExt   = ".deleted"
	checkpointExt = ".checkpoint"
	lockName      = ".lock"

	// maxLogLine bounds a single deletion log line.
	maxLogLine = 64 << 20
)

// Config contains the configurable options of a Store.
type Config struct {
	// Sync flushes containers and the deletion log to stable storage before
	// an append or a deletion record returns.
	Sync bool
}

// Store keeps every user's container in <dir>/<user>.bin and the user's
// deletion log in <dir>/<user>.deleted.
type Store struct {
	log    *zap.Logger
	dir    string
	config Config
	lock   *os.File

	mu         sync.Mutex
	closed     bool
	containers map[string]*container

	logMu sync.Mutex

	// Now is used to timestamp deletion entries.
	Now func() time.Time
}

// file is the part of *os.File a container uses.
type file interface {
	io.ReaderAt
	io.WriterAt
	Stat() (fs.FileInfo, error)
	Sync() error
	Close() error
}

// container is an open user file and its logical length.
type container struct {
	mu   sync.Mutex
	fh   file
	size uint64
}

// Open opens the store in dir, creating the directory when needed. Only one
// Store may hold dir at a time.
func Open(log *zap.Logger, dir string, config Config) (_ *Store, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Error.Wrap(err)
	}

	lock, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := flock(lock); err != nil {
		return nil, errs.Combine(Error.New("unable to lock %q: %v", dir, err), lock.Close())
	}

	log.Debug("opened binary store", zap.String("dir", dir), zap.Bool("sync", config.Sync), zap.Bool("locked", flockSupported))

	return &Store{
		log:        log,
		dir:        dir,
		config:     config,
		lock:       lock,
		containers: make(map[string]*container),
		Now:        time.Now,
	}, nil
}

func (store *Store) containerPath(user string) string {
	return filepath.Join(store.dir, user+containerExt)
}

func (store *Store) deletionPath(user string) string {
	return filepath.Join(store.dir, user+deletionExt)
}

func (store *Store) checkpointPath(user string) string {
	return filepath.Join(store.dir, user+checkpointExt)
}

// open returns the container of user. When create is false and the file
// does not exist, it returns nil.
func (store *Store) open(ctx context.Context, user string, create bool) (_ *container, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateUser(user); err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil, storage.ErrBackend.New("store closed")
	}
	if c, ok := store.containers[user]; ok {
		return c, nil
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	fh, err := os.OpenFile(store.containerPath(user), flags, 0644)
	if errors.Is(err, fs.ErrNotExist) && !create {
		return nil, nil
	}
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}

	// the logical length of a reopened container is its file size.
	info, err := fh.Stat()
	if err != nil {
		return nil, errs.Combine(storage.ErrBackend.Wrap(err), fh.Close())
	}

	c := &container{fh: fh, size: uint64(info.Size())}
	store.containers[user] = c
	return c, nil
}

// Append writes data at the end of the user's container.
func (store *Store) Append(ctx context.Context, user string, data []byte) (_ storage.Chunk, err error) {
	defer mon.Task()(&ctx)(&err)

	chunks, err := store.AppendBatch(ctx, user, [][]byte{data})
	if err != nil {
		return storage.Chunk{}, err
	}
	return chunks[0], nil
}

// AppendBatch writes parts contiguously at the end of the user's container.
func (store *Store) AppendBatch(ctx context.Context, user string, parts [][]byte) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)

	c, err := store.open(ctx, user, true)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if len(parts) == 1 {
		buf = parts[0]
	} else {
		for _, part := range parts {
			buf = append(buf, part...)
		}
	}

	chunks, torn, err := c.append(ctx, buf, parts, store.config.Sync)
	if torn.Size > 0 {
		// the torn bytes are recorded without holding the container lock, as
		// Close acquires the store lock before container locks.
		store.logAbandoned(user, torn)
	}
	if err != nil {
		return nil, err
	}

	mon.IntVal("append_bytes").Observe(int64(len(buf)))
	return chunks, nil
}

// append writes buf at the end of the container. When the write fails after
// some bytes reached the file, torn is the range they occupy.
func (c *container) append(ctx context.Context, buf []byte, parts [][]byte, fsync bool) (chunks storage.Chunks, torn storage.Chunk, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, torn, err
	}

	chunks = binstore.Layout(c.size, parts)

	n, err := c.fh.WriteAt(buf, int64(c.size))
	// bytes written by a failed append stay in the file; advancing past them
	// keeps later appends from ever overwriting them.
	if err != nil {
		torn = storage.Chunk{Offset: c.size, Size: uint64(n)}
		c.size += uint64(n)
		return nil, torn, storage.ErrBackend.Wrap(err)
	}
	c.size += uint64(n)

	if fsync {
		if err := c.fh.Sync(); err != nil {
			return nil, torn, storage.ErrBackend.Wrap(err)
		}
	}
	return chunks, torn, nil
}

// logAbandoned records bytes of a failed append. They belong to no key.
func (store *Store) logAbandoned(user string, torn storage.Chunk) {
	entry := binstore.DeletionEntry{
		User:    user,
		Chunks:  storage.Chunks{torn},
		Reason:  binstore.ReasonAbandoned,
		Deleted: store.Now().UTC(),
	}
	if err := store.appendDeletion(entry); err != nil {
		mon.Counter("torn_append_log_failures").Inc(1)
		store.log.Warn("failed to record torn append",
			zap.String("user", user), zap.Stringer("chunk", torn), zap.Error(err))
	}
}

// Read returns exactly the bytes of chunk.
func (store *Store) Read(ctx context.Context, user string, chunk storage.Chunk) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	parts, err := store.ReadBatch(ctx, user, storage.Chunks{chunk})
	if err != nil {
		return nil, err
	}
	return parts[0], nil
}

// ReadBatch reads every chunk, in order.
func (store *Store) ReadBatch(ctx context.Context, user string, chunks storage.Chunks) (_ [][]byte, err error) {
	defer mon.Task()(&ctx)(&err)

	c, err := store.open(ctx, user, false)
	if err != nil {
		return nil, err
	}

	var size uint64
	if c != nil {
		c.mu.Lock()
		size = c.size
		c.mu.Unlock()
	}

	for _, chunk := range chunks {
		if err := binstore.CheckRange(chunk, size); err != nil {
			return nil, err
		}
	}

	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		parts[i] = make([]byte, chunk.Size)
		if chunk.Size == 0 {
			continue
		}
		// bytes below size are never rewritten, so reads need no lock.
		if _, err := c.fh.ReadAt(parts[i], int64(chunk.Offset)); err != nil {
			return nil, storage.ErrBackend.Wrap(err)
		}
	}
	return parts, nil
}

// Verify reports whether the bytes of chunk match checksum.
func (store *Store) Verify(ctx context.Context, user string, chunk storage.Chunk, checksum uint64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := store.Read(ctx, user, chunk)
	if err != nil {
		return false, err
	}
	return binstore.Checksum(data) == checksum, nil
}

// LogDeletion appends a JSON line to the user's deletion log.
func (store *Store) LogDeletion(ctx context.Context, user, key string, chunks storage.Chunks, reason binstore.Reason) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateUser(user); err != nil {
		return err
	}

	return store.appendDeletion(binstore.DeletionEntry{
		User:    user,
		Key:     key,
		Chunks:  chunks,
		Reason:  reason,
		Deleted: store.Now().UTC(),
	})
}

// appendDeletion writes entry as one line of its user's deletion log.
func (store *Store) appendDeletion(entry binstore.DeletionEntry) (err error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	line = append(line, '\n')

	store.logMu.Lock()
	defer store.logMu.Unlock()

	store.mu.Lock()
	closed := store.closed
	store.mu.Unlock()
	if closed {
		return storage.ErrBackend.New("store closed")
	}

	fh, err := os.OpenFile(store.deletionPath(entry.User), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	defer func() { err = errs.Combine(err, storage.ErrBackend.Wrap(fh.Close())) }()

	if _, err := fh.Write(line); err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	if store.config.Sync {
		return storage.ErrBackend.Wrap(fh.Sync())
	}
	return nil
}

// IterateDeletions walks every deletion log in the directory, user by user
// in name order and entry by entry in write order, starting after the
// user's checkpoint. The position of an entry is the byte offset just past
// its line. A torn final line left by a crash is skipped.
func (store *Store) IterateDeletions(ctx context.Context, fn func(binstore.DeletionEntry) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	paths, err := store.glob(deletionExt)
	if err != nil {
		return err
	}

	for _, path := range paths {
		user := strings.TrimSuffix(filepath.Base(path), deletionExt)
		checkpoint, err := store.readCheckpoint(user)
		if err != nil {
			return err
		}
		if err := store.iterateFile(ctx, path, checkpoint.Position, fn); err != nil {
			return err
		}
	}
	return nil
}

func (store *Store) glob(ext string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(store.dir, "*"+ext))
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (store *Store) iterateFile(ctx context.Context, path string, position int64, fn func(binstore.DeletionEntry) error) (err error) {
	fh, err := os.Open(path)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	defer func() { err = errs.Combine(err, storage.ErrBackend.Wrap(fh.Close())) }()

	if position > 0 {
		if _, err := fh.Seek(position, io.SeekStart); err != nil {
			return storage.ErrBackend.Wrap(err)
		}
	}

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := scanner.Bytes()
		position += int64(len(raw)) + 1

		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}

		var entry binstore.DeletionEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			store.log.Warn("skipping malformed deletion entry",
				zap.String("file", filepath.Base(path)), zap.Int64("position", position), zap.Error(err))
			continue
		}
		entry.Position = position
		if err := fn(entry); err != nil {
			return err
		}
	}
	return storage.ErrBackend.Wrap(scanner.Err())
}

// Checkpoints returns the saved checkpoint of every user that has one.
func (store *Store) Checkpoints(ctx context.Context) (_ map[string]binstore.Checkpoint, err error) {
	defer mon.Task()(&ctx)(&err)

	paths, err := store.glob(checkpointExt)
	if err != nil {
		return nil, err
	}

	checkpoints := make(map[string]binstore.Checkpoint, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		user := strings.TrimSuffix(filepath.Base(path), checkpointExt)
		checkpoint, err := store.readCheckpoint(user)
		if err != nil {
			return nil, err
		}
		checkpoints[user] = checkpoint
	}
	return checkpoints, nil
}

// readCheckpoint returns the checkpoint of user, or the zero checkpoint when
// none was saved.
func (store *Store) readCheckpoint(user string) (checkpoint binstore.Checkpoint, err error) {
	data, err := os.ReadFile(store.checkpointPath(user))
	if errors.Is(err, fs.ErrNotExist) {
		return binstore.Checkpoint{}, nil
	}
	if err != nil {
		return binstore.Checkpoint{}, storage.ErrBackend.Wrap(err)
	}
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return binstore.Checkpoint{}, storage.ErrBackend.New("checkpoint of %q: %v", user, err)
	}
	return checkpoint, nil
}

// SaveCheckpoint replaces the checkpoint of user. The file is written next
// to its destination and renamed over it, so readers see the old or the new
// checkpoint.
func (store *Store) SaveCheckpoint(ctx context.Context, user string, checkpoint binstore.Checkpoint) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateUser(user); err != nil {
		return err
	}
	if checkpoint.Position < 0 {
		return storage.ErrInvalidInput.New("negative checkpoint position %d", checkpoint.Position)
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}

	store.logMu.Lock()
	defer store.logMu.Unlock()

	path := store.checkpointPath(user)
	tmp := path + ".tmp"

	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	_, err = fh.Write(data)
	if err == nil && store.config.Sync {
		err = fh.Sync()
	}
	err = errs.Combine(err, fh.Close())
	if err != nil {
		return storage.ErrBackend.Wrap(errs.Combine(err, os.Remove(tmp)))
	}

	return storage.ErrBackend.Wrap(os.Rename(tmp, path))
}

// DiskSpace returns the usage of the file system holding the directory.
func (store *Store) DiskSpace(ctx context.Context) (_ binstore.DiskSpace, err error) {
	defer mon.Task()(&ctx)(&err)

	usage, err := disk.UsageWithContext(ctx, store.dir)
	if err != nil {
		return binstore.DiskSpace{}, storage.ErrBackend.Wrap(err)
	}
	return binstore.DiskSpace{
		Total: int64(usage.Total),
		Used:  int64(usage.Used),
		Free:  int64(usage.Free),
	}, nil
}

// Size returns the logical length of the user's container.
func (store *Store) Size(ctx context.Context, user string) (uint64, error) {
	c, err := store.open(ctx, user, false)
	if err != nil || c == nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, nil
}

// Close closes every open container and releases the directory lock.
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}
	store.closed = true

	var group errs.Group
	for user, c := range store.containers {
		c.mu.Lock()
		group.Add(Error.Wrap(c.fh.Close()))
		c.mu.Unlock()
		delete(store.containers, user)
	}
	group.Add(Error.Wrap(store.lock.Close()))
	return group.Err()
}
