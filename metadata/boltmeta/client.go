// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltmeta implements the metadata index on top of a bbolt file.
package boltmeta

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var (
	mon = monkit.Package()

	// Error is the default boltmeta error class.
	Error = errs.Class("boltmeta")
)

var _ metadata.DB = (*Client)(nil)

var defaultTimeout = 1 * time.Second

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600

	// recordVersion prefixes every stored value, so an object with no chunks
	// is never stored as an empty value.
	recordVersion = 1
)

var rootBucket = []byte("objects")

// Client is the metadata index stored in a bolt database. Every user owns
// a nested bucket under the root bucket.
type Client struct {
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

// New instantiates a new bolt backed metadata index.
func New(log *zap.Logger, path string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}

	log.Debug("opened metadata database", zap.String("path", path))

	return &Client{
		log:  log,
		db:   db,
		Path: path,
	}, nil
}

// Close closes the bolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

func encode(chunks storage.Chunks) []byte {
	return append([]byte{recordVersion}, storage.EncodeChunks(chunks)...)
}

func decode(value []byte) (storage.Chunks, error) {
	if len(value) == 0 || value[0] != recordVersion {
		return nil, storage.ErrBackend.New("invalid record")
	}
	return storage.DecodeChunks(value[1:])
}

// userBucket returns the bucket of user, creating it when create is set.
// It returns nil when the bucket does not exist and create is not set.
func userBucket(tx *bolt.Tx, user string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(rootBucket)
	if root == nil {
		return nil, storage.ErrBackend.New("missing root bucket")
	}
	if !create {
		return root.Bucket([]byte(user)), nil
	}
	bucket, err := root.CreateBucketIfNotExists([]byte(user))
	return bucket, storage.ErrBackend.Wrap(err)
}

func get(bucket *bolt.Bucket, key string) (storage.Chunks, error) {
	if bucket == nil {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	value := bucket.Get([]byte(key))
	if value == nil {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	// decode copies out of the bolt page, which is only valid inside the tx.
	return decode(value)
}

func (client *Client) update(fn func(*bolt.Tx) error) error {
	err := client.db.Update(fn)
	if err != nil && !storage.ErrNotFound.Has(err) && !storage.ErrAlreadyExists.Has(err) {
		return storage.ErrBackend.Wrap(err)
	}
	return err
}

// Put creates the record for key.
func (client *Client) Put(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}

	return client.update(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, true)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(key)) != nil {
			return storage.ErrAlreadyExists.New("%q", key)
		}
		return bucket.Put([]byte(key), encode(chunks))
	})
}

// Get returns the chunk list of key.
func (client *Client) Get(ctx context.Context, user, key string) (chunks storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		chunks, err = get(bucket, key)
		return err
	})
	return chunks, err
}

// Update replaces the chunk list of key.
func (client *Client) Update(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}

	return client.update(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		if _, err := get(bucket, key); err != nil {
			return err
		}
		return bucket.Put([]byte(key), encode(chunks))
	})
}

// AppendChunk adds chunk to the end of the list of key.
func (client *Client) AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.update(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		chunks, err := get(bucket, key)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), encode(append(chunks, chunk)))
	})
}

// Delete removes key and returns its chunk list.
func (client *Client) Delete(ctx context.Context, user, key string) (removed storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.update(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		removed, err = get(bucket, key)
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Rename moves oldKey to newKey.
func (client *Client) Rename(ctx context.Context, user, oldKey, newKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.update(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		chunks, err := get(bucket, oldKey)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(newKey)) != nil {
			return storage.ErrAlreadyExists.New("%q", newKey)
		}
		if err := bucket.Delete([]byte(oldKey)); err != nil {
			return err
		}
		return bucket.Put([]byte(newKey), encode(chunks))
	})
}

// Exists reports whether key exists.
func (client *Client) Exists(ctx context.Context, user, key string) (exists bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil {
			return err
		}
		exists = bucket != nil && bucket.Get([]byte(key)) != nil
		return nil
	})
	return exists, storage.ErrBackend.Wrap(err)
}

// List returns the sorted keys of user.
func (client *Client) List(ctx context.Context, user string) (keys []string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := userBucket(tx, user, false)
		if err != nil || bucket == nil {
			return err
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, storage.ErrBackend.Wrap(err)
}
