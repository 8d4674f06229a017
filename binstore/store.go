// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package binstore defines the append-only per-user containers that hold
// object bytes.
package binstore

import (
	"context"
	"time"

	"github.com/zeebo/xxh3"

	"storj.io/haystack/storage"
)

// Store is an append-only byte store with one container per user.
//
// Appends to the same user are serialized and every append observes a
// container length that includes all prior appends. Bytes are never
// overwritten.
type Store interface {
	// Append writes data at the end of the user's container.
	Append(ctx context.Context, user string, data []byte) (storage.Chunk, error)
	// AppendBatch writes parts contiguously at the end of the user's
	// container and returns one chunk per part, in order.
	AppendBatch(ctx context.Context, user string, parts [][]byte) (storage.Chunks, error)
	// Read returns exactly the bytes of chunk. It fails with
	// storage.ErrOutOfRange when the chunk ends past the container.
	Read(ctx context.Context, user string, chunk storage.Chunk) ([]byte, error)
	// ReadBatch reads every chunk, in order.
	ReadBatch(ctx context.Context, user string, chunks storage.Chunks) ([][]byte, error)
	// LogDeletion durably records that chunks are no longer referenced.
	LogDeletion(ctx context.Context, user, key string, chunks storage.Chunks, reason Reason) error
	// Verify reports whether the bytes of chunk match checksum.
	Verify(ctx context.Context, user string, chunk storage.Chunk, checksum uint64) (bool, error)
	// Close releases the resources held by the store.
	Close() error
}

// DeletionLog is implemented by stores that can walk their deletion log.
type DeletionLog interface {
	// IterateDeletions calls fn for every deletion entry recorded after the
	// checkpoint of its user, user by user in name order and entry by entry
	// in write order. Returning an error from fn stops the iteration.
	IterateDeletions(ctx context.Context, fn func(DeletionEntry) error) error
	// Checkpoints returns the saved checkpoint of every user that has one.
	Checkpoints(ctx context.Context) (map[string]Checkpoint, error)
	// SaveCheckpoint marks the entries of user up to checkpoint.Position as
	// processed.
	SaveCheckpoint(ctx context.Context, user string, checkpoint Checkpoint) error
}

// Checkpoint summarizes the processed prefix of a user's deletion log.
type Checkpoint struct {
	// Position is the Position of the last processed entry.
	Position int64            `json:"position"`
	Entries  int64            `json:"entries"`
	Bytes    uint64           `json:"bytes"`
	ByReason map[Reason]uint64 `json:"by_reason,omitempty"`
	Updated  time.Time        `json:"updated"`
}

// Clone returns a deep copy of checkpoint.
func (checkpoint Checkpoint) Clone() Checkpoint {
	byReason := make(map[Reason]uint64, len(checkpoint.ByReason))
	for reason, size := range checkpoint.ByReason {
		byReason[reason] = size
	}
	checkpoint.ByReason = byReason
	return checkpoint
}

// SpaceReporter is implemented by stores that live on a file system.
type SpaceReporter interface {
	// DiskSpace returns the usage of the file system holding the containers.
	DiskSpace(ctx context.Context) (DiskSpace, error)
}

// DiskSpace describes the usage of a file system, in bytes.
type DiskSpace struct {
	Total int64
	Used  int64
	Free  int64
}

// Reason describes why chunks became unreferenced.
type Reason string

const (
	// ReasonDelete marks chunks of a deleted object.
	ReasonDelete Reason = "delete"
	// ReasonUpdate marks chunks superseded by an update.
	ReasonUpdate Reason = "update"
	// ReasonAbandoned marks bytes that were appended but never committed.
	ReasonAbandoned Reason = "abandoned"
)

// DeletionEntry is a single record of the deletion log.
type DeletionEntry struct {
	User    string         `json:"user"`
	Key     string         `json:"key"`
	Chunks  storage.Chunks `json:"chunks"`
	Reason  Reason         `json:"reason"`
	Deleted time.Time      `json:"deleted"`

	// Position locates the end of the entry in its user's log. It is set by
	// IterateDeletions and increases with every entry.
	Position int64 `json:"-"`
}

// Checksum returns the checksum used by Verify.
func Checksum(data []byte) uint64 {
	return xxh3.Hash(data)
}

// ReadAll reads chunks from store and concatenates them in order.
func ReadAll(ctx context.Context, store Store, user string, chunks storage.Chunks) ([]byte, error) {
	parts, err := store.ReadBatch(ctx, user, chunks)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, chunks.TotalSize())
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

// Layout assigns contiguous chunks starting at offset to parts.
func Layout(offset uint64, parts [][]byte) storage.Chunks {
	chunks := make(storage.Chunks, len(parts))
	for i, part := range parts {
		chunks[i] = storage.Chunk{Offset: offset, Size: uint64(len(part))}
		offset += uint64(len(part))
	}
	return chunks
}

// CheckRange returns storage.ErrOutOfRange when chunk does not fit in a
// container of the given length.
func CheckRange(chunk storage.Chunk, length uint64) error {
	if chunk.End() < chunk.Offset || chunk.End() > length {
		return storage.ErrOutOfRange.New("chunk %v past container length %d", chunk, length)
	}
	return nil
}
