package service

import (
	"sort"
	"sync"
)

// Gate serializes all invariant-checking mutations per (item, location) key.
// Locks are created lazily and multi-key acquisition always happens in sorted
// key order, so two transfers moving stock in opposite directions cannot
// deadlock each other.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGate() *Gate {
	return &Gate{locks: make(map[string]*sync.Mutex)}
}

func (g *Gate) lockFor(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
}

// WithLock runs fn with exclusive access to all given keys. The locks are
// released on every exit path, including a panic inside fn.
func (g *Gate) WithLock(keys []string, fn func() error) error {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, k := range ordered {
		l := g.lockFor(k)
		l.Lock()
		defer l.Unlock()
	}

	return fn()
}
