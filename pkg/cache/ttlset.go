// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache holds small in-process caches.
package cache

import (
	"sync"
	"time"
)

// TTLSet remembers keys for a fixed time after they were added. Expired keys
// are ignored on lookup and purged in the background.
//
//	recent := cache.NewTTLSet[types.ChunkID](10*time.Minute, 40000)
//	defer recent.Stop()
//
//	if recent.Add(id) {
//	    enqueue(id)
//	}
type TTLSet[K comparable] struct {
	ttl     time.Duration
	maxSize int // 0 = unlimited

	mu      sync.Mutex
	expires map[K]time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewTTLSet starts a set whose keys live for ttl. When maxSize is reached the
// key closest to expiry makes room for the new one.
func NewTTLSet[K comparable](ttl time.Duration, maxSize int) *TTLSet[K] {
	s := &TTLSet[K]{
		ttl:     ttl,
		maxSize: maxSize,
		expires: make(map[K]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.purgeLoop()
	return s
}

func (s *TTLSet[K]) purgeLoop() {
	defer close(s.done)
	if s.ttl <= 0 {
		<-s.stop
		return
	}
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.purge(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *TTLSet[K]) purge(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}
}

// Add stores key unless it is already live and reports whether it did.
func (s *TTLSet[K]) Add(key K) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false
	}
	if _, ok := s.expires[key]; !ok && s.maxSize > 0 && len(s.expires) >= s.maxSize {
		s.evictLocked()
	}
	s.expires[key] = now.Add(s.ttl)
	return true
}

// evictLocked drops the key that expires first
func (s *TTLSet[K]) evictLocked() {
	var (
		victim  K
		soonest time.Time
		found   bool
	)
	for k, exp := range s.expires {
		if !found || exp.Before(soonest) {
			victim, soonest, found = k, exp, true
		}
	}
	if found {
		delete(s.expires, victim)
	}
}

// Contains reports whether key is live
func (s *TTLSet[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[key]
	return ok && time.Now().Before(exp)
}

// Remove forgets key so the next Add succeeds
func (s *TTLSet[K]) Remove(key K) {
	s.mu.Lock()
	delete(s.expires, key)
	s.mu.Unlock()
}

// Len counts stored keys, including expired ones not purged yet.
func (s *TTLSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// Stop ends the purge goroutine and waits for it.
func (s *TTLSet[K]) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
