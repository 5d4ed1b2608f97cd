package services

import (
	"sync"

	"github.com/google/uuid"
)

type assetLock struct {
	mu   sync.Mutex
	refs int
}

// lockArena hands out one mutex per asset id so that version commits on the
// same asset are serialized without blocking commits on other assets. Entries
// are created on demand and dropped when the last holder releases, so the
// arena stays proportional to in-flight operations rather than to the number
// of assets.
type lockArena struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*assetLock
}

func newLockArena() *lockArena {
	return &lockArena{locks: map[uuid.UUID]*assetLock{}}
}

func (a *lockArena) lock(assetId uuid.UUID) {
	a.mu.Lock()
	entry, ok := a.locks[assetId]
	if !ok {
		entry = &assetLock{}
		a.locks[assetId] = entry
	}
	entry.refs++
	a.mu.Unlock()

	entry.mu.Lock()
}

func (a *lockArena) unlock(assetId uuid.UUID) {
	a.mu.Lock()
	entry := a.locks[assetId]
	entry.refs--
	if entry.refs == 0 {
		delete(a.locks, assetId)
	}
	a.mu.Unlock()

	entry.mu.Unlock()
}
