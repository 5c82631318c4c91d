// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashindex

import (
	"sync"

	"github.com/kwiberg/frz/lib/hashid"
)

type ramEntry struct {
	id   hashid.ID
	path string
}

// RAMIndex is an in-memory Index, used for hash-files-only tooling
// that never persists an index to disk.
type RAMIndex struct {
	mu      sync.RWMutex
	entries map[string]ramEntry
}

// NewRAMIndex returns an empty in-memory index.
func NewRAMIndex() *RAMIndex {
	return &RAMIndex{entries: make(map[string]ramEntry)}
}

func (r *RAMIndex) Insert(id hashid.ID, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := id.Encode()
	if _, exists := r.entries[key]; exists {
		return false, nil
	}
	r.entries[key] = ramEntry{id: id, path: path}
	return true, nil
}

func (r *RAMIndex) Contains(id hashid.ID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[id.Encode()]
	return exists, nil
}

func (r *RAMIndex) Scrub(isGood func(id hashid.ID, path string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		if !isGood(entry.id, entry.path) {
			delete(r.entries, key)
		}
	}
	return nil
}
