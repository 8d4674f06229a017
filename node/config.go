// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package node

import (
	"github.com/zeebo/errs"

	"storj.io/haystack/engine"
	"storj.io/haystack/reclaim"
)

// Error is the default node error class.
var Error = errs.Class("node")

// Metadata backends.
const (
	MetadataSQLite = "sqlite"
	MetadataBolt   = "bolt"
	MetadataRedis  = "redis"
	MetadataMemory = "memory"
)

// Binary backends.
const (
	BinaryFile   = "file"
	BinaryMemory = "memory"
)

// MetadataConfig selects and configures the metadata index.
type MetadataConfig struct {
	Backend      string `help:"metadata backend: sqlite, bolt, redis or memory" default:"sqlite"`
	Path         string `help:"path of the sqlite or bolt database file" default:"$CONFDIR/metadata.db"`
	RedisAddress string `help:"address of the redis server as redis://host:port?db=N" default:"redis://127.0.0.1:6379?db=0"`
	Debug        bool   `help:"log every metadata call at debug level" default:"false"`
}

// BinaryConfig selects and configures the binary store.
type BinaryConfig struct {
	Backend string `help:"binary backend: file or memory" default:"file"`
	Dir     string `help:"directory holding the per-user containers and deletion logs" default:"$CONFDIR/containers"`
	Sync    bool   `help:"flush containers to disk before acknowledging a write" default:"true"`
}

// Config is all the configuration parameters for a haystack node.
type Config struct {
	Metadata MetadataConfig
	Binary   BinaryConfig
	Engine   engine.Config
	Reclaim  reclaim.Config
}

// Verify verifies whether configuration is consistent and acceptable.
func (config *Config) Verify() error {
	var group errs.Group

	switch config.Metadata.Backend {
	case MetadataSQLite, MetadataBolt:
		if config.Metadata.Path == "" {
			group.Add(Error.New("metadata backend %q requires a path", config.Metadata.Backend))
		}
	case MetadataRedis:
		if config.Metadata.RedisAddress == "" {
			group.Add(Error.New("metadata backend %q requires an address", config.Metadata.Backend))
		}
	case MetadataMemory:
	default:
		group.Add(Error.New("unknown metadata backend %q", config.Metadata.Backend))
	}

	switch config.Binary.Backend {
	case BinaryFile:
		if config.Binary.Dir == "" {
			group.Add(Error.New("binary backend %q requires a directory", config.Binary.Backend))
		}
	case BinaryMemory:
	default:
		group.Add(Error.New("unknown binary backend %q", config.Binary.Backend))
	}

	if config.Engine.MaxPartSize <= 0 {
		group.Add(Error.New("max part size must be positive"))
	}
	if config.Engine.MaxParts <= 0 {
		group.Add(Error.New("max parts must be positive"))
	}
	if config.Reclaim.Enabled && config.Reclaim.Interval <= 0 {
		group.Add(Error.New("reclaim interval must be positive"))
	}

	return group.Err()
}
