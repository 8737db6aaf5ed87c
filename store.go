//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package filepoll

import (
	"sync"

	"filepoll/internal/locker"
	"filepoll/internal/safejob"
	"filepoll/metrics"
)

// recordBlockSize is how many Records a single hive-growth call adds to
// the free list, the same batching desc_cache.go's pollBlockSize performs
// for *Desc (one growth call serving many future acquires). Each Record is
// still its own allocation (grow calls NewRecord once per record).
const recordBlockSize = 256

// recordStore is a free-list-backed pool of Records plus a deferred-free
// queue drained once per event-loop tick (C6). Grounded on
// internal/poller/desc_cache.go's descCache: a hive of pre-allocated
// records linked through a `first`/`next` free list, and a second list
// (`pendingFree`) of records whose teardown is known-safe only after the
// current tick's in-flight kernel events have all been dispatched - a
// Record torn down mid-tick could otherwise be recycled and re-armed while
// a stale kernel event for its old fd is still queued.
//
// The hive lock is internal/locker.Locker rather than desc_cache.go's
// inlined CAS spin loop: same technique, pulled into the already-present
// teacher utility package instead of being duplicated.
type recordStore struct {
	hiveLock locker.Locker
	first    *Record
	all      []*Record

	pendingMu   sync.Mutex
	pendingFree []*Record

	drain safejob.ExclusiveUnblockJob
}

func newRecordStore() *recordStore {
	return &recordStore{all: make([]*Record, 0, recordBlockSize)}
}

// acquire returns a Record from the free list, growing the hive first if
// it is empty.
func (s *recordStore) acquire() *Record {
	s.hiveLock.Lock()
	if s.first == nil {
		s.grow()
	}
	r := s.first
	s.first = r.nextToFree
	r.nextToFree = nil
	s.hiveLock.Unlock()
	return r
}

// grow must be called with hiveLock held.
func (s *recordStore) grow() {
	for i := 0; i < recordBlockSize; i++ {
		r := NewRecord()
		s.all = append(s.all, r)
		r.nextToFree = s.first
		s.first = r
	}
}

// release recycles r. If r was never exposed to the kernel (everRegistered
// is false), no in-flight kernel event can reference it, so it goes
// straight back to the hive. Otherwise it is queued on the pending-free
// FIFO and only reclaimed by the next processDeferredFrees, since a ready
// event for r's old fd may already be sitting in this tick's ready-events
// array.
func (s *recordStore) release(r *Record, everRegistered bool) {
	if !everRegistered {
		r.reset()
		s.hiveLock.Lock()
		r.nextToFree = s.first
		s.first = r
		s.hiveLock.Unlock()
		return
	}
	s.pendingMu.Lock()
	s.pendingFree = append(s.pendingFree, r)
	s.pendingMu.Unlock()
}

// processDeferredFrees drains the pending-free queue back into the hive's
// free list, resetting each record (which also bumps its generation
// number, invalidating any stale in-flight kernel event still carrying the
// old one). Must only be called from the loop thread, once per tick, after
// every ready record for that tick has been dispatched.
//
// Guarded by an ExclusiveUnblockJob rather than a plain mutex: a caller
// that finds the drain already running (which cannot happen from a single
// loop thread today, but would if a future Loop variant called this from
// more than one place) simply skips rather than blocking the loop thread
// on itself.
func (s *recordStore) processDeferredFrees() {
	if !s.drain.Begin() {
		return
	}
	defer s.drain.End()

	s.pendingMu.Lock()
	if len(s.pendingFree) == 0 {
		s.pendingMu.Unlock()
		return
	}
	batch := s.pendingFree
	s.pendingFree = nil
	s.pendingMu.Unlock()

	s.hiveLock.Lock()
	for _, r := range batch {
		r.reset()
		r.nextToFree = s.first
		s.first = r
	}
	s.hiveLock.Unlock()
	metrics.Add(metrics.DeferredFrees, uint64(len(batch)))
}

// pendingCount reports how many records are currently waiting in the
// deferred-free queue; exposed for tests only.
func (s *recordStore) pendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pendingFree)
}
