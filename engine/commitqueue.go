// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"sync"

	"storj.io/drpc/drpcsignal"
)

// commitQueue keeps metadata commits of a user in the order in which their
// bytes were appended. Appends run in the user's append section, which also
// issues a ticket; a commit waits for the previous ticket of the user.
type commitQueue struct {
	closed *drpcsignal.Signal

	mu    sync.Mutex
	users map[string]*userQueue
}

type userQueue struct {
	section *mutex
	tail    <-chan struct{}
}

var released = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func newCommitQueue(closed *drpcsignal.Signal) *commitQueue {
	return &commitQueue{
		closed: closed,
		users:  make(map[string]*userQueue),
	}
}

func (q *commitQueue) user(user string) *userQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	uq, ok := q.users[user]
	if !ok {
		uq = &userQueue{section: newMutex(), tail: released}
		q.users[user] = uq
	}
	return uq
}

// Append runs fn inside the user's append section. When fn succeeds, the
// returned ticket must be released once the matching commit is done or
// abandoned.
func (q *commitQueue) Append(ctx context.Context, user string, fn func() error) (*ticket, error) {
	uq := q.user(user)
	if err := uq.section.Lock(ctx, q.closed); err != nil {
		return nil, err
	}
	defer uq.section.Unlock()

	if err := fn(); err != nil {
		return nil, err
	}

	t := &ticket{prev: uq.tail, done: make(chan struct{})}
	uq.tail = t.done
	return t, nil
}
