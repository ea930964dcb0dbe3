// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unread

import (
	"sort"
	"sync"
)

// Set is a concurrency-safe set of unread message ids.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Add inserts id.
func (s *Set) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Remove deletes ids.
func (s *Set) Remove(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.ids, id)
	}
	s.mu.Unlock()
}

// Has reports whether id is unread.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of unread ids.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the ids in sorted order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Reset replaces the contents with ids.
func (s *Set) Reset(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
}

// Clear empties the set.
func (s *Set) Clear() {
	s.Reset(nil)
}
