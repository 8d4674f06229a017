// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redismeta implements the metadata index on top of redis. Every user
// is a single hash whose fields are the object keys and whose values are the
// encoded chunk lists.
package redismeta

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/haystack/metadata"
	"storj.io/haystack/storage"
)

var (
	// Error is a redis error.
	Error = errs.Class("redismeta")

	mon = monkit.Package()
)

var _ metadata.DB = (*Client)(nil)

// script results.
const (
	resultExists   = -1
	resultNotFound = 0
	resultOK       = 1
)

var (
	updateScript = redis.NewScript(`
		if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
			return 0
		end
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		return 1`)

	appendScript = redis.NewScript(`
		local value = redis.call('HGET', KEYS[1], ARGV[1])
		if not value then
			return 0
		end
		redis.call('HSET', KEYS[1], ARGV[1], value .. ARGV[2])
		return 1`)

	deleteScript = redis.NewScript(`
		local value = redis.call('HGET', KEYS[1], ARGV[1])
		if value then
			redis.call('HDEL', KEYS[1], ARGV[1])
		end
		return value`)

	renameScript = redis.NewScript(`
		local value = redis.call('HGET', KEYS[1], ARGV[1])
		if not value then
			return 0
		end
		if redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
			return -1
		end
		redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('HSET', KEYS[1], ARGV[2], value)
		return 1`)
)

// Client is the entrypoint into Redis.
type Client struct {
	db     *redis.Client
	prefix string
}

// OpenClient returns a configured Client instance, verifying a successful connection to redis.
func OpenClient(ctx context.Context, address, password string, db int) (_ *Client, err error) {
	defer mon.Task()(&ctx)(&err)

	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
		prefix: "objects:",
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), client.db.Close())
	}

	return client, nil
}

// OpenClientFrom returns a configured Client instance from a redis://host?db=N&password=P address.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()

	db := 0
	if s := q.Get("db"); s != "" {
		db, err = strconv.Atoi(s)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	return OpenClient(ctx, redisurl.Host, q.Get("password"), db)
}

func (client *Client) hash(user string) string { return client.prefix + user }

// Put creates the record for key.
func (client *Client) Put(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}

	created, err := client.db.HSetNX(ctx, client.hash(user), key, storage.EncodeChunks(chunks)).Result()
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	if !created {
		return storage.ErrAlreadyExists.New("%q", key)
	}
	return nil
}

// Get returns the chunk list of key.
func (client *Client) Get(ctx context.Context, user, key string) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := client.db.HGet(ctx, client.hash(user), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	return storage.DecodeChunks(value)
}

// Update replaces the chunk list of key.
func (client *Client) Update(ctx context.Context, user, key string, chunks storage.Chunks) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidateChunks(chunks); err != nil {
		return err
	}

	result, err := updateScript.Run(ctx, client.db, []string{client.hash(user)}, key, storage.EncodeChunks(chunks)).Int64()
	return scriptResult(result, err, key, key)
}

// AppendChunk adds chunk to the end of the list of key.
func (client *Client) AppendChunk(ctx context.Context, user, key string, chunk storage.Chunk) (err error) {
	defer mon.Task()(&ctx)(&err)

	encoded, err := chunk.MarshalBinary()
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	result, err := appendScript.Run(ctx, client.db, []string{client.hash(user)}, key, encoded).Int64()
	return scriptResult(result, err, key, key)
}

// Delete removes key and returns its chunk list.
func (client *Client) Delete(ctx context.Context, user, key string) (_ storage.Chunks, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := deleteScript.Run(ctx, client.db, []string{client.hash(user)}, key).Text()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound.New("%q", key)
	}
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	return storage.DecodeChunks([]byte(value))
}

// Rename moves oldKey to newKey.
func (client *Client) Rename(ctx context.Context, user, oldKey, newKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := renameScript.Run(ctx, client.db, []string{client.hash(user)}, oldKey, newKey).Int64()
	return scriptResult(result, err, oldKey, newKey)
}

// Exists reports whether key exists.
func (client *Client) Exists(ctx context.Context, user, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := client.db.HExists(ctx, client.hash(user), key).Result()
	return exists, storage.ErrBackend.Wrap(err)
}

// List returns the sorted keys of user.
func (client *Client) List(ctx context.Context, user string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := client.db.HKeys(ctx, client.hash(user)).Result()
	if err != nil {
		return nil, storage.ErrBackend.Wrap(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// FlushDB deletes all keys in the currently selected DB.
func (client *Client) FlushDB(ctx context.Context) error {
	_, err := client.db.FlushDB(ctx).Result()
	return Error.Wrap(err)
}

// Close closes a redis client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

func scriptResult(result int64, err error, missingKey, existingKey string) error {
	if err != nil {
		return storage.ErrBackend.Wrap(err)
	}
	switch result {
	case resultOK:
		return nil
	case resultNotFound:
		return storage.ErrNotFound.New("%q", missingKey)
	case resultExists:
		return storage.ErrAlreadyExists.New("%q", existingKey)
	default:
		return storage.ErrBackend.New("unexpected script result %d", result)
	}
}
