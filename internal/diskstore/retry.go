package diskstore

import (
	"sync"
	"time"
)

const (
	minRetryInterval = 2 * time.Second
	maxRetryCount    = 8
)

// openGate rate-limits repeated Open attempts against the same path, per
// spec.md §4.4: once an open fails, further attempts are refused until
// either minRetryInterval has elapsed or the retry counter has not yet
// reached maxRetryCount. A successful open clears both.
type openGate struct {
	mu          sync.Mutex
	lastAttempt time.Time
	retries     int
}

var openGates sync.Map // string (canonical path) -> *openGate

func gateFor(path string) *openGate {
	g, _ := openGates.LoadOrStore(path, &openGate{})
	return g.(*openGate)
}

func (g *openGate) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retries == 0 {
		return true
	}
	if g.retries < maxRetryCount {
		return true
	}
	return time.Since(g.lastAttempt) >= minRetryInterval
}

func (g *openGate) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retries++
	g.lastAttempt = time.Now()
}

func (g *openGate) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retries = 0
	g.lastAttempt = time.Time{}
}
