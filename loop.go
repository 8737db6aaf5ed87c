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
	"errors"
	"sync/atomic"

	uatomic "go.uber.org/atomic"

	"filepoll/internal/safejob"
)

// kernelBackend is the seam between a Loop and the platform-specific
// syscalls that actually register/unregister/wait on file descriptors.
// newPlatformBackend returns the epoll implementation on Linux and the
// kqueue implementation on BSD/Darwin, selected at compile time via build
// tags exactly as the teacher's poller_epoll.go/poller_kqueue.go are
// (//go:build linux / //go:build freebsd || dragonfly || darwin).
type kernelBackend interface {
	// register performs the epoll_ctl/kevent syscall that starts (or, if
	// rearm is true, refreshes) watching r.FD() for flag.
	register(r *Record, flag Flags, rearm bool) error
	// unregister performs the epoll_ctl/kevent syscall that stops watching
	// r.FD().
	unregister(r *Record) error
	// wait blocks until at least one registered fd is ready (or the loop is
	// woken via trigger), translates the kernel-reported events into flag
	// bits, and invokes deliver(record, bits, sizeOrOffset) once per ready
	// record in the batch, then afterBatch() exactly once after the whole
	// batch has been delivered (the "after event-loop iteration" callback
	// slot the spec's poll store hooks processDeferredFrees into).
	wait(deliver func(r *Record, bits Flags, sizeOrOffset int), afterBatch func()) error
	// trigger wakes a blocked wait from any goroutine.
	trigger() error
	// close releases the backend's own kernel resources (poll fd, wakeup
	// fd/filter).
	close() error
}

// Option configures a Loop at construction time, in the same functional-
// options shape as the teacher's pollmgr.go Option/options/
// WithIgnoreTaskError.
type Option func(*loopOptions)

type loopOptions struct {
	ignoreTaskError bool
}

// WithIgnoreTaskError sets the ignoreTaskError value handed to the kernel
// backend, in the shape of poller.WithIgnoreTaskError. The backend stores
// it but nothing reads it: owner callbacks in this module return no error,
// and no record is torn down because of this setting.
func WithIgnoreTaskError(ignore bool) Option {
	return func(o *loopOptions) { o.ignoreTaskError = ignore }
}

// Loop is this module's concrete, runnable implementation of the "opaque
// Loop" external collaborator described by the spec (C1): it owns the
// kernel poll fd, the live/active counters Record and KeepAlive mutate, and
// the record store records are acquired from and returned to. Grounded on
// pollmgr.go's PollMgr plus poller_epoll.go/poller_kqueue.go's epoll/kqueue
// structs, merged into one type per loop instance rather than split across
// a manager/poller pair, since this module does not need PollMgr's
// multi-poller load balancing for a single Loop (see pool.go for the
// multi-Loop case).
type Loop struct {
	kind    LoopKind
	backend kernelBackend
	store   *recordStore

	numPolls     int64 // atomic
	active       int64 // atomic
	pendingUnref uatomic.Int32

	// runJob serializes Run: a second call arriving while one is already
	// blocked in backend.wait would race the backend's shared ready-events
	// buffer, so it must block rather than silently skip - the opposite of
	// store.go's drain, which is safe to skip because it re-runs next tick
	// regardless. Grounded on closer.go's apiReadJob/apiCtrlJob.
	runJob safejob.ExclusiveBlockJob

	// closed is a CAS-once latch identical in shape to closer.go's
	// closeAllJob: Begin succeeds exactly once, so a concurrent double Close
	// only runs backend.close() a single time.
	closed safejob.OnceJob
}

// NewLoop creates a Loop bound to the host platform's kernel multiplexer.
func NewLoop(kind LoopKind, opts ...Option) (*Loop, error) {
	o := &loopOptions{}
	for _, opt := range opts {
		opt(o)
	}
	backend, err := newPlatformBackend(o.ignoreTaskError)
	if err != nil {
		return nil, err
	}
	return newLoopWithBackend(kind, backend), nil
}

func newLoopWithBackend(kind LoopKind, backend kernelBackend) *Loop {
	return &Loop{
		kind:    kind,
		backend: backend,
		store:   newRecordStore(),
	}
}

// Kind reports which host runtime (JS VM vs mini VM) this Loop stands in
// for. Register copies it into the Record; Record.Deinit does not consult
// it and releases the record to the store of the Loop passed to Deinit.
func (l *Loop) Kind() LoopKind { return l.kind }

// Acquire returns a Record ready to be configured and registered, taken
// from the store's free list (which processDeferredFrees refills with
// recycled records), growing the hive when the list is empty.
func (l *Loop) Acquire() *Record { return l.store.acquire() }

// PollCount returns the number of records currently holding a live kernel
// registration.
func (l *Loop) PollCount() int64 { return atomic.LoadInt64(&l.numPolls) }

// ActiveCount returns the loop's current keep-alive count; a Loop run by a
// host runtime exits once this reaches zero and no other work is pending.
func (l *Loop) ActiveCount() int64 { return atomic.LoadInt64(&l.active) }

func (l *Loop) incPolls() { atomic.AddInt64(&l.numPolls, 1) }
func (l *Loop) decPolls() { atomic.AddInt64(&l.numPolls, -1) }

// AddActive/SubActive/Ref/Unref/RefConcurrently/UnrefConcurrently implement
// the EventLoop interface KeepAlive and Record depend on.

// AddActive raises the active count by n. Loop-thread only.
func (l *Loop) AddActive(n int32) { atomic.AddInt64(&l.active, int64(n)) }

// SubActive lowers the active count by n. Loop-thread only.
func (l *Loop) SubActive(n int32) { atomic.AddInt64(&l.active, -int64(n)) }

// Ref raises the active count by one. Loop-thread only.
func (l *Loop) Ref() { l.AddActive(1) }

// Unref lowers the active count by one. Loop-thread only.
func (l *Loop) Unref() { l.SubActive(1) }

// RefConcurrently raises the active count by one; safe from any goroutine.
func (l *Loop) RefConcurrently() { atomic.AddInt64(&l.active, 1) }

// UnrefConcurrently lowers the active count by one; safe from any goroutine.
func (l *Loop) UnrefConcurrently() { atomic.AddInt64(&l.active, -1) }

// IncPendingUnref queues a SubActive(1) to be applied at the next tick
// boundary. Loop-thread only.
func (l *Loop) IncPendingUnref() { l.pendingUnref.Inc() }

// IncPendingUnrefConcurrently is IncPendingUnref's thread-safe twin.
func (l *Loop) IncPendingUnrefConcurrently() { l.pendingUnref.Inc() }

// drainPendingUnrefs applies every queued IncPendingUnref since the last
// tick. Called once per tick by the backend's wait loop, after dispatch.
func (l *Loop) drainPendingUnrefs() {
	if n := l.pendingUnref.Swap(0); n != 0 {
		l.SubActive(n)
	}
	l.store.processDeferredFrees()
}

// controlRegister issues the kernel registration syscall for r, wrapping
// backend errors into the spec's typed error taxonomy.
func (l *Loop) controlRegister(r *Record, flag Flags, rearm bool) error {
	return l.backend.register(r, flag, rearm)
}

// controlUnregister issues the kernel de-registration syscall for r.
func (l *Loop) controlUnregister(r *Record) error {
	return l.backend.unregister(r)
}

// errLoopAlreadyRunning is returned by Run when runJob.Begin fails, which
// for an ExclusiveBlockJob happens only after the job has been closed. A
// second Run call while a previous one is still in backend.wait blocks in
// Begin instead of returning this error.
var errLoopAlreadyRunning = errors.New("filepoll: Run is already in progress on this loop")

// Run blocks, servicing kernel events and after-tick bookkeeping, until the
// backend's wait returns (normally only on Close or an unrecoverable
// syscall error). Grounded on pollmgr.go's `go poller.Wait()` plus
// poller_epoll.go/poller_kqueue.go's Wait loops.
//
// runJob.Begin blocks out (rather than races) a second concurrent/re-entrant
// Run call on the same Loop; see closer.go's apiReadJob for the same
// blocking-exclusivity pattern applied to a single-reader invariant.
func (l *Loop) Run() error {
	if !l.runJob.Begin() {
		return errLoopAlreadyRunning
	}
	defer l.runJob.End()
	return l.backend.wait(onTick, l.drainPendingUnrefs)
}

// Wake interrupts a blocked Run from any goroutine, e.g. so the caller can
// register a new record without waiting out the current wait timeout.
func (l *Loop) Wake() error { return l.backend.trigger() }

// Close shuts down the Loop's kernel resources. Run's blocking wait returns
// once this completes.
func (l *Loop) Close() error {
	if !l.closed.Begin() {
		return nil
	}
	return l.backend.close()
}
