// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"sync"

	"storj.io/drpc/drpcsignal"
)

// objectKey identifies an object across users.
type objectKey struct {
	user, key string
}

// KeyLock provides mutual exclusion per (user, key). Locks are created on
// demand and dropped once nobody holds or waits for them.
type KeyLock struct {
	closed *drpcsignal.Signal

	mu    sync.Mutex
	locks map[objectKey]*keyMutex
}

type keyMutex struct {
	*mutex
	refs int
}

// NewKeyLock creates a KeyLock whose waiters give up once closed is set.
func NewKeyLock(closed *drpcsignal.Signal) *KeyLock {
	return &KeyLock{
		closed: closed,
		locks:  make(map[objectKey]*keyMutex),
	}
}

func (l *KeyLock) acquire(k objectKey) *keyMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[k]
	if !ok {
		m = &keyMutex{mutex: newMutex()}
		l.locks[k] = m
	}
	m.refs++
	return m
}

func (l *KeyLock) release(k objectKey, m *keyMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, k)
	}
}

// Lock locks (user, key) and returns the function that unlocks it.
func (l *KeyLock) Lock(ctx context.Context, user, key string) (unlock func(), err error) {
	k := objectKey{user: user, key: key}
	m := l.acquire(k)
	if err := m.Lock(ctx, l.closed); err != nil {
		l.release(k, m)
		return nil, err
	}
	return func() {
		m.Unlock()
		l.release(k, m)
	}, nil
}

// LockPair locks two keys of the same user in sorted order, so concurrent
// pair lockers cannot deadlock. Locking the same key twice locks it once.
func (l *KeyLock) LockPair(ctx context.Context, user, a, b string) (unlock func(), err error) {
	if a == b {
		return l.Lock(ctx, user, a)
	}
	if b < a {
		a, b = b, a
	}

	unlockA, err := l.Lock(ctx, user, a)
	if err != nil {
		return nil, err
	}
	unlockB, err := l.Lock(ctx, user, b)
	if err != nil {
		unlockA()
		return nil, err
	}
	return func() {
		unlockB()
		unlockA()
	}, nil
}

// Len returns the number of live locks.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
