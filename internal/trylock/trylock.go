// Package trylock provides a non-reentrant mutual-exclusion lock with a
// scoped try-acquire variant.
//
// Every tier in duocache (the memory tier and the disk tier) owns exactly
// one of these and serializes all of its public operations through it.
// The try-acquire form exists for the staircase eviction loops: each
// iteration acquires-and-releases the lock so a contending reader or
// writer can interleave between victims instead of starving behind one
// long held lock.
package trylock

import "sync"

// Lock is a plain, non-reentrant mutex. It is a thin wrapper rather than a
// bare sync.Mutex only so call sites read as "acquire for this tier's
// critical section" rather than a generic mutex.
type Lock struct {
	mu sync.Mutex
}

// With runs fn with the lock held and releases it on every exit path,
// including a panic unwinding through fn.
func (l *Lock) With(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// TryWith attempts to acquire the lock without blocking. If acquired, fn
// runs and TryWith returns true; otherwise it returns false immediately.
func (l *Lock) TryWith(fn func()) bool {
	if !l.mu.TryLock() {
		return false
	}
	defer l.mu.Unlock()
	fn()
	return true
}

// Lock acquires the lock. Callers must pair it with Unlock; prefer With
// where the critical section is a single expression.
func (l *Lock) Lock() { l.mu.Lock() }

// Unlock releases the lock.
func (l *Lock) Unlock() { l.mu.Unlock() }
