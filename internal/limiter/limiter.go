// Package limiter bounds how many plan executions run at once in this process.
package limiter

import (
	"strings"
	"sync"
)

// Slots hands out a fixed number of in-process slots per key.
type Slots struct {
	maxInflight int
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

func New(maxInflight int) *Slots {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &Slots{maxInflight: maxInflight, sem: map[string]chan struct{}{}}
}

// Allow tries to reserve a slot for key without blocking.
// Returns a release function and true if allowed; otherwise a no-op and false.
func (s *Slots) Allow(key string) (func(), bool) {
	key = strings.ToLower(key)
	s.mu.Lock()
	ch, ok := s.sem[key]
	if !ok {
		ch = make(chan struct{}, s.maxInflight)
		s.sem[key] = ch
	}
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return func() {}, false
	}
}

// InFlight reports the slots currently held for key.
func (s *Slots) InFlight(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.sem[strings.ToLower(key)]; ok {
		return len(ch)
	}
	return 0
}
