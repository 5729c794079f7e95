// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package safety

import (
	"container/list"
	"time"
)

// registryEntry is one confirmed allocation tracked by the LRU registry.
type registryEntry struct {
	id        string
	kind      ResourceKind
	count     int64
	insertedAt time.Time
	elem      *list.Element
}

// evictionHandler is invoked with the kind/count of an entry the
// registry had to evict to stay under capacity.
type evictionHandler func(kind ResourceKind, count int64, age time.Duration)

// lruRegistry is a bounded, insertion-ordered registry of confirmed
// resource allocations. When capacity is exceeded, the oldest entry is
// evicted and onEvict is called so the caller can decrement the
// corresponding allocated counter, per spec.md §4.5's consistency rule.
type lruRegistry struct {
	capacity int
	entries  map[string]*registryEntry
	order    *list.List // front = newest, back = oldest
	onEvict  evictionHandler
}

func newLRURegistry(capacity int, onEvict evictionHandler) *lruRegistry {
	return &lruRegistry{
		capacity: capacity,
		entries:  make(map[string]*registryEntry),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Insert adds id to the registry, evicting the oldest entry first if
// the registry is already at capacity.
func (r *lruRegistry) Insert(id string, kind ResourceKind, count int64, now time.Time) {
	if r.capacity > 0 && len(r.entries) >= r.capacity {
		r.evictOldest(now)
	}
	e := &registryEntry{id: id, kind: kind, count: count, insertedAt: now}
	e.elem = r.order.PushFront(e)
	r.entries[id] = e
}

func (r *lruRegistry) evictOldest(now time.Time) {
	back := r.order.Back()
	if back == nil {
		return
	}
	evicted := back.Value.(*registryEntry)
	r.order.Remove(back)
	delete(r.entries, evicted.id)
	if r.onEvict != nil {
		r.onEvict(evicted.kind, evicted.count, now.Sub(evicted.insertedAt))
	}
}

// Remove deletes id from the registry. Returns false if id was not
// present (already evicted or never inserted).
func (r *lruRegistry) Remove(id string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	r.order.Remove(e.elem)
	delete(r.entries, id)
	return true
}

// Len returns the number of entries currently registered.
func (r *lruRegistry) Len() int { return len(r.entries) }

// CountByKind returns the number of entries and total reserved count
// for the given kind, used by the consistency audit.
func (r *lruRegistry) CountByKind(kind ResourceKind) (entries int, total int64) {
	for _, e := range r.entries {
		if e.kind == kind {
			entries++
			total += e.count
		}
	}
	return entries, total
}

// OlderThan returns every entry whose age (relative to now) exceeds
// threshold, for leak detection. Entries are not removed.
func (r *lruRegistry) OlderThan(threshold time.Duration, now time.Time) []ResourceLeak {
	var leaks []ResourceLeak
	for _, e := range r.entries {
		age := now.Sub(e.insertedAt)
		if age > threshold {
			leaks = append(leaks, ResourceLeak{ID: e.id, Kind: e.kind, Age: age})
		}
	}
	return leaks
}
