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
	"go.uber.org/atomic"

	"filepoll/internal/safejob"
	"filepoll/metrics"
)

// EventLoop is the contract a host event loop must satisfy for KeepAlive and
// Record to operate against it. Only one concrete implementation
// (*Loop) lives in this module, but the registration/dispatch code is
// written against the interface so the distinction between "loop-thread
// operation" and "thread-safe operation" stays explicit at every call site.
type EventLoop interface {
	// AddActive/SubActive raise or lower the keep-alive count. Loop-thread only.
	AddActive(n int32)
	SubActive(n int32)
	// Ref/Unref are the boolean-latch form of AddActive(1)/SubActive(1).
	Ref()
	Unref()
	// RefConcurrently/UnrefConcurrently are safe to call from any goroutine.
	RefConcurrently()
	UnrefConcurrently()
	// IncPendingUnref/IncPendingUnrefConcurrently queue an unref to be
	// applied at the next tick boundary, loop-thread and any-goroutine
	// respectively.
	IncPendingUnref()
	IncPendingUnrefConcurrently()
}

// KeepAlive is a small three-state latch: inactive (default), active
// (currently contributing one unit to the loop's active count), or done
// (permanently disabled; every subsequent operation is a no-op). It lets an
// fd stay registered with the kernel without holding the process open - the
// classic example is a stdin FIFO the user has explicitly unref'd.
//
// The "done" terminal state is backed by safejob.ConcurrentJob: Begin/End
// bracket every operation so that disable() racing with a concurrent ref
// either wins cleanly or observes the cell already closed, and Closed()
// is the done predicate.
type KeepAlive struct {
	job    safejob.ConcurrentJob
	active atomic.Bool
}

// Ref transitions inactive -> active and calls ctx.Ref(); a no-op if already
// active or done.
func (k *KeepAlive) Ref(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(false, true) {
		metrics.Add(metrics.KeepAliveRefs, 1)
		ctx.Ref()
	}
}

// Unref transitions active -> inactive and calls ctx.Unref(); a no-op if
// already inactive or done.
func (k *KeepAlive) Unref(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(true, false) {
		metrics.Add(metrics.KeepAliveUnrefs, 1)
		ctx.Unref()
	}
}

// RefConcurrently is Ref's thread-safe twin: callers need not hold the loop
// thread.
func (k *KeepAlive) RefConcurrently(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(false, true) {
		metrics.Add(metrics.KeepAliveRefs, 1)
		ctx.RefConcurrently()
	}
}

// UnrefConcurrently is Unref's thread-safe twin.
func (k *KeepAlive) UnrefConcurrently(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(true, false) {
		metrics.Add(metrics.KeepAliveUnrefs, 1)
		ctx.UnrefConcurrently()
	}
}

// UnrefOnNextTick has the same eventual effect as Unref, but defers the
// actual SubActive call to the next tick boundary - this prevents the loop
// from exiting prematurely while a callback that just unref'd is still
// executing.
func (k *KeepAlive) UnrefOnNextTick(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(true, false) {
		metrics.Add(metrics.KeepAliveUnrefs, 1)
		ctx.IncPendingUnref()
	}
}

// UnrefOnNextTickConcurrently is UnrefOnNextTick's thread-safe twin.
func (k *KeepAlive) UnrefOnNextTickConcurrently(ctx EventLoop) {
	if !k.job.Begin() {
		return
	}
	defer k.job.End()
	if k.active.CAS(true, false) {
		metrics.Add(metrics.KeepAliveUnrefs, 1)
		ctx.IncPendingUnrefConcurrently()
	}
}

// Disable forces an Unref, then permanently marks the cell done. Every
// subsequent operation, including Ref, becomes a no-op. Safe to call more
// than once.
func (k *KeepAlive) Disable(ctx EventLoop) {
	k.Unref(ctx)
	k.job.Close()
}

// IsActive returns true iff the cell is currently contributing to the
// loop's active count.
func (k *KeepAlive) IsActive() bool {
	return k.active.Load()
}

// IsDone returns true iff Disable has been called.
func (k *KeepAlive) IsDone() bool {
	return k.job.Closed()
}
