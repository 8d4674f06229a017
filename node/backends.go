// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package node

import (
	"context"

	"go.uber.org/zap"

	"storj.io/haystack/binstore"
	"storj.io/haystack/binstore/filestore"
	"storj.io/haystack/binstore/memstore"
	"storj.io/haystack/metadata"
	"storj.io/haystack/metadata/boltmeta"
	"storj.io/haystack/metadata/memmeta"
	"storj.io/haystack/metadata/metalogger"
	"storj.io/haystack/metadata/redismeta"
	"storj.io/haystack/metadata/sqlitemeta"
)

// OpenMetadata opens the metadata index selected by config.
func OpenMetadata(ctx context.Context, log *zap.Logger, config MetadataConfig) (db metadata.DB, err error) {
	switch config.Backend {
	case MetadataSQLite:
		db, err = sqlitemeta.Open(ctx, log, config.Path)
	case MetadataBolt:
		db, err = boltmeta.New(log, config.Path)
	case MetadataRedis:
		db, err = redismeta.OpenClientFrom(ctx, config.RedisAddress)
	case MetadataMemory:
		db = memmeta.New()
	default:
		return nil, Error.New("unknown metadata backend %q", config.Backend)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if config.Debug {
		db = metalogger.New(log, db)
	}
	return db, nil
}

// OpenBinary opens the binary store selected by config.
func OpenBinary(log *zap.Logger, config BinaryConfig) (binstore.Store, error) {
	switch config.Backend {
	case BinaryFile:
		store, err := filestore.Open(log, config.Dir, filestore.Config{Sync: config.Sync})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return store, nil
	case BinaryMemory:
		return memstore.New(), nil
	default:
		return nil, Error.New("unknown binary backend %q", config.Backend)
	}
}
