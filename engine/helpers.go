// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"sync"

	"storj.io/drpc/drpcsignal"
)

//
// context/signal aware mutex
//

type mutex struct {
	ch chan struct{}
}

func newMutex() *mutex {
	return &mutex{ch: make(chan struct{}, 1)}
}

func signalErr(closed *drpcsignal.Signal) error {
	if err, ok := closed.Get(); ok {
		return err
	}
	return nil
}

func (s *mutex) Lock(ctx context.Context, closed *drpcsignal.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	} else if err := signalErr(closed); err != nil {
		return err
	}
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-closed.Signal():
		return signalErr(closed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *mutex) Unlock() { <-s.ch }

//
// ticket in a per-user commit chain
//

// ticket orders one metadata commit after the commit of the ticket issued
// before it for the same user.
type ticket struct {
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

// Wait blocks until every earlier ticket of the user is released.
func (t *ticket) Wait(ctx context.Context, closed *drpcsignal.Signal) error {
	select {
	case <-t.prev:
		return nil
	default:
	}
	select {
	case <-t.prev:
		return nil
	case <-closed.Signal():
		return signalErr(closed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release lets the next ticket proceed. When the earlier tickets are still
// pending, the release is deferred until they are, so the chain stays
// ordered even if this ticket's holder gave up waiting.
func (t *ticket) Release() {
	t.once.Do(func() {
		select {
		case <-t.prev:
			close(t.done)
		default:
			go func() {
				<-t.prev
				close(t.done)
			}()
		}
	})
}
