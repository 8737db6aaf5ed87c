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

	"filepoll/log"
	"filepoll/metrics"
)

// InvalidFD is the sentinel fd value meaning "this Record is not bound to
// any descriptor".
const InvalidFD = -1

// LoopKind distinguishes which host event loop registered a Record; Register
// records it, while Deinit returns the record to the store of the Loop it is
// given rather than looking the store up by kind. Mirrors the teacher's
// "js" vs "mini" VM distinction (options.go/pollmgr.go serve a single
// runtime; this module supports more than one Loop instance the same way
// PollMgr supports more than one poller goroutine).
type LoopKind uint8

// The loop kinds a Record can be allocated from.
const (
	LoopKindJS LoopKind = iota
	LoopKindMini
)

// Record is the per-fd registration entity: fd, flags, owner tag,
// generation and free-list link all live here, exactly as the teacher's
// Desc does, generalized from "read/write callbacks" to the full poll_*
// dispatch table the spec requires.
type Record struct {
	fd         int
	flags      Flags
	owner      OwnerTag
	generation uint32
	loopKind   LoopKind
	nextToFree *Record

	// kqToken anchors the BSD backend's generation-tagged Udata payload
	// (see kernel_kqueue.go) so it survives until the kernel event carrying
	// it has been consumed; unused (always nil) on Linux, where the Data
	// word holds nothing but this *Record itself and there is no side
	// channel to echo a generation back through.
	kqToken any
}

// NewRecord returns an unbound Record (fd InvalidFD, Deactivated owner).
// Most callers should use (*Loop).Acquire instead, which recycles from the
// hive.
func NewRecord() *Record {
	return &Record{fd: InvalidFD, owner: DeactivatedOwnerTag()}
}

// FD returns the bound file descriptor, or InvalidFD if unbound.
func (r *Record) FD() int { return r.fd }

// SetFD binds (or rebinds, before the first Register) the descriptor this
// record watches.
func (r *Record) SetFD(fd int) { r.fd = fd }

// Flags returns the record's current flag set.
func (r *Record) Flags() Flags { return r.flags }

// Owner returns the record's current owner tag.
func (r *Record) Owner() OwnerTag { return r.owner }

// SetOwner binds this record to an owner of the given kind. Must be called
// before Register.
func (r *Record) SetOwner(kind OwnerKind, owner any) {
	r.owner = InitOwnerTag(kind, owner)
}

// Generation returns the record's current generation number. Only
// meaningful on BSD backends, where it is stamped into the kqueueToken
// that a kevent's Udata points at and compared on delivery to detect stale
// events against recycled memory.
func (r *Record) Generation() uint32 { return r.generation }

// SetKeepsEventLoopAlive toggles whether a successful Register should also
// bump the loop's active (keep-alive) count. Must be set before calling
// Register to take effect on that registration.
func (r *Record) SetKeepsEventLoopAlive(v bool) {
	if v {
		r.flags = r.flags.Union(FlagKeepsEventLoopAlive)
	} else {
		r.flags = r.flags.Remove(FlagKeepsEventLoopAlive)
	}
}

// IsWatching reports whether exactly one poll_* bit is currently asserted
// (the normal "actively registered" state; needs_rearm temporarily breaks
// this until re-register completes).
func (r *Record) IsWatching() bool {
	return r.flags.pollRequestCount() == 1 && !r.flags.Has(FlagNeedsRearm)
}

var errUnboundRecord = errors.New("filepoll: record has no bound file descriptor")

// Register asks loop to watch this record's fd for flag (one of
// FlagPollReadable, FlagPollWritable, FlagPollProcess, FlagPollMachport),
// rearming (MOD/refreshed ADD) if the record is already registered or
// pending rearm, adding otherwise. On success the loop's poll count is
// bumped at most once per record, and its active count is bumped at most
// once per record iff SetKeepsEventLoopAlive(true) was called.
func (r *Record) Register(loop *Loop, flag Flags, oneShot bool) error {
	if r.fd == InvalidFD {
		return errUnboundRecord
	}
	alreadyRegistered := r.flags.Any(pollRequestMask) || r.flags.Has(FlagNeedsRearm)
	if oneShot {
		r.flags = r.flags.Union(FlagOneShot)
	}

	if err := loop.controlRegister(r, flag, alreadyRegistered); err != nil {
		metrics.Add(metrics.RegistrationFailures, 1)
		return err
	}
	metrics.Add(metrics.Registrations, 1)

	r.flags = r.flags.Union(FlagWasEverRegistered)
	if !r.flags.Has(FlagHasIncrementedPollCount) {
		loop.incPolls()
		r.flags = r.flags.Union(FlagHasIncrementedPollCount)
	}
	if r.flags.Has(FlagKeepsEventLoopAlive) && !r.flags.Has(FlagHasIncrementedActiveCount) {
		loop.AddActive(1)
		r.flags = r.flags.Union(FlagHasIncrementedActiveCount)
	}
	r.flags = r.flags.Union(flag).Remove(FlagNeedsRearm)
	r.loopKind = loop.kind
	return nil
}

// Unregister tears down the kernel registration. If needs_rearm is set and
// forceUnregister is false, the kernel has already forgotten this fd (the
// prior registration was one-shot), so no syscall is issued; counts and
// flags are still cleared in that case, matching the "in all paths"
// bookkeeping the spec calls for.
func (r *Record) Unregister(loop *Loop, forceUnregister bool) error {
	if !r.flags.Any(pollRequestMask) {
		return nil
	}

	skipSyscall := r.flags.Has(FlagNeedsRearm) && !forceUnregister
	if !skipSyscall {
		if err := loop.controlUnregister(r); err != nil {
			return err
		}
		metrics.Add(metrics.Deregistrations, 1)
	}

	if r.flags.Has(FlagHasIncrementedPollCount) {
		loop.decPolls()
		r.flags = r.flags.Remove(FlagHasIncrementedPollCount)
	}
	if r.flags.Has(FlagHasIncrementedActiveCount) {
		loop.SubActive(1)
		r.flags = r.flags.Remove(FlagHasIncrementedActiveCount)
	}
	r.flags = r.flags.Remove(FlagOneShot).Remove(FlagNeedsRearm).Remove(pollRequestMask)
	return nil
}

// UpdateFlags clears every readiness bit and unions in newFlags, preserving
// poll_* and lifecycle bits.
func (r *Record) UpdateFlags(newFlags Flags) {
	r.flags = r.flags.updated(newFlags)
}

// OnUpdate is called once per kernel-reported readiness event, after
// UpdateFlags has already folded the translated kernel flags in. If this
// was a one-shot registration, needs_rearm is marked. The event is then
// dispatched to the owner via the closed table keyed on OwnerKind; a
// Deactivated or unrecognized owner is logged and dropped, never dispatched.
func (r *Record) OnUpdate(sizeOrOffset int) {
	if r.flags.Has(FlagOneShot) && !r.flags.Has(FlagNeedsRearm) {
		r.flags = r.flags.Union(FlagNeedsRearm)
	}
	hasHup := r.flags.Has(FlagHUP)

	switch r.owner.Kind() {
	case OwnerKindFIFOReader:
		if o, ok := OwnerAs[Readable](r.owner); ok {
			o.Ready(sizeOrOffset, hasHup)
		}
	case OwnerKindWriteSink:
		if o, ok := OwnerAs[Writable](r.owner); ok {
			o.OnPoll(sizeOrOffset, 0)
		}
	case OwnerKindSubprocess:
		if o, ok := OwnerAs[ProcessWatcher](r.owner); ok {
			o.OnExitNotificationTask()
		}
	case OwnerKindDNSResolver:
		if o, ok := OwnerAs[DNSPollable](r.owner); ok {
			o.OnDNSPoll(r)
		}
	case OwnerKindMachportWatcher:
		if o, ok := OwnerAs[MachportWatcher](r.owner); ok {
			o.OnMachportChange()
		}
	case OwnerKindScriptOutputReader:
		if o, ok := OwnerAs[ScriptOutputReader](r.owner); ok {
			o.OnPoll(sizeOrOffset)
		}
	case OwnerKindScriptPidWatcher:
		if o, ok := OwnerAs[ScriptPidWatcher](r.owner); ok {
			o.OnProcessUpdate(sizeOrOffset)
		}
	default:
		log.Debugf("filepoll: dropping update for owner kind %v (deactivated or unknown)", r.owner.Kind())
	}
}

// Deinit unregisters the record (forcing the syscall even if needs_rearm is
// set - this is the one path that bypasses that short-circuit), clears
// ownership to the Deactivated sentinel, resets the fd, and hands the
// record to the owning Loop's store for deferred recycling.
func (r *Record) Deinit(loop *Loop) error {
	everRegistered := r.flags.Has(FlagWasEverRegistered)
	err := r.Unregister(loop, true)
	r.owner = DeactivatedOwnerTag()
	r.markIgnoreUpdates()
	r.fd = InvalidFD
	loop.store.release(r, everRegistered)
	return err
}

func (r *Record) markIgnoreUpdates() {
	r.flags = r.flags.Union(FlagIgnoreUpdates)
}

func (r *Record) clearIgnoreUpdates() {
	r.flags = r.flags.Remove(FlagIgnoreUpdates)
}

func (r *Record) reset() {
	r.fd = InvalidFD
	r.flags = 0
	r.owner = DeactivatedOwnerTag()
	r.generation++
	r.nextToFree = nil
	r.kqToken = nil
}
