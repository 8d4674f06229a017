// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package node wires the backends, the engine and the background chores
// into a single runnable peer.
package node

import (
	"context"

	hw "github.com/jtolds/monkit-hw/v2"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
	"storj.io/haystack/binstore"
	"storj.io/haystack/engine"
	"storj.io/haystack/metadata"
	"storj.io/haystack/reclaim"
)

var mon = monkit.Package()

func init() {
	hw.Register(monkit.Default)
}

// Peer is a single haystack node.
type Peer struct {
	// core dependencies
	Log      *zap.Logger
	Metadata metadata.DB
	Binary   binstore.Store

	// services
	Engine *engine.Engine

	Reclaim struct {
		Chore *reclaim.Chore
	}
}

// New creates a new peer and opens its backends.
func New(ctx context.Context, log *zap.Logger, config Config) (_ *Peer, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := config.Verify(); err != nil {
		return nil, err
	}

	peer := &Peer{Log: log}
	defer func() {
		if err != nil {
			err = errs.Combine(err, peer.Close())
		}
	}()

	peer.Metadata, err = OpenMetadata(ctx, log.Named("metadata"), config.Metadata)
	if err != nil {
		return nil, err
	}

	peer.Binary, err = OpenBinary(log.Named("binary"), config.Binary)
	if err != nil {
		return nil, err
	}

	peer.Engine = engine.New(log.Named("engine"), peer.Metadata, peer.Binary, config.Engine)

	if config.Reclaim.Enabled {
		if deletions, ok := peer.Binary.(binstore.DeletionLog); ok {
			peer.Reclaim.Chore = reclaim.NewChore(log.Named("reclaim"), deletions, config.Reclaim)
		} else {
			log.Warn("binary backend has no readable deletion log, reclamation reports disabled",
				zap.String("backend", config.Binary.Backend))
		}
	}

	return peer, nil
}

// Run runs the peer until ctx is canceled or a service fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if peer.Reclaim.Chore != nil {
		group.Go(func() error {
			return errs2.IgnoreCanceled(peer.Reclaim.Chore.Run(ctx))
		})
	}

	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	var errlist errs.Group

	// close services in reverse initialization order
	if peer.Reclaim.Chore != nil {
		errlist.Add(peer.Reclaim.Chore.Close())
	}
	if peer.Engine != nil {
		errlist.Add(peer.Engine.Close())
	}
	if peer.Binary != nil {
		errlist.Add(peer.Binary.Close())
	}
	if peer.Metadata != nil {
		errlist.Add(peer.Metadata.Close())
	}

	return errlist.Err()
}
