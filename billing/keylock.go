/*
keylock.go - Per-key critical section for read-modify-write cycles

PURPOSE:
  Two concurrent recalculations for the same consumer would read the same
  ledger state and each append a full delta, double-counting the adjustment.
  The external store offers no conditional-write guard, so single-instance
  deployments serialize cycles here, at consumer granularity (adjustment
  refresh spans every period of a subject, so period-level locking would
  still race it against reconciliation). All components writing one ledger
  share one instance. Multi-instance deployments need a version check at
  the store boundary instead; this lock closes the gap only within one
  process.
*/
package billing

import "sync"

// KeyLock serializes work per demand key.
type KeyLock struct {
	mu    sync.Mutex
	locks map[DemandKey]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[DemandKey]*keyEntry)}
}

// Lock acquires the critical section for key and returns its release func.
// Entries are reference-counted so the map does not grow with key churn.
func (kl *KeyLock) Lock(key DemandKey) (unlock func()) {
	kl.mu.Lock()
	e, ok := kl.locks[key]
	if !ok {
		e = &keyEntry{}
		kl.locks[key] = e
	}
	e.refs++
	kl.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		kl.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mu.Unlock()
	}
}
