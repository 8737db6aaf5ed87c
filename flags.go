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

// Flags is a bit set describing per-record state: what a record asked to be
// watched for, what the kernel last reported, what kind of fd it wraps, and
// assorted lifecycle bits. The full enumeration is total; no bit outside it
// is ever set.
type Flags uint32

// Requested watch bits ("what we asked for").
const (
	FlagPollReadable Flags = 1 << iota
	FlagPollWritable
	FlagPollProcess
	FlagPollMachport

	// Reported readiness bits ("what the kernel told us").
	FlagReadable
	FlagWritable
	FlagProcess
	FlagEOF
	FlagHUP
	FlagMachport

	// What kind of fd.
	FlagFIFO
	FlagTTY

	// Lifecycle.
	FlagOneShot
	FlagNeedsRearm
	FlagHasIncrementedPollCount
	FlagHasIncrementedActiveCount
	FlagClosed
	FlagKeepsEventLoopAlive
	FlagNonblocking
	FlagWasEverRegistered
	FlagIgnoreUpdates
)

// readinessMask covers every bit the kernel can report on an update; these
// are cleared in full before a fresh translated set is unioned in.
const readinessMask = FlagReadable | FlagWritable | FlagProcess | FlagMachport | FlagEOF | FlagHUP

// pollRequestMask covers the four "what we asked for" bits; exactly one of
// these may be set while needs_rearm is clear.
const pollRequestMask = FlagPollReadable | FlagPollWritable | FlagPollProcess | FlagPollMachport

// Has reports whether all bits in want are set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Any reports whether at least one bit in want is set in f.
func (f Flags) Any(want Flags) bool {
	return f&want != 0
}

// Union returns f with other's bits set.
func (f Flags) Union(other Flags) Flags {
	return f | other
}

// Remove returns f with other's bits cleared.
func (f Flags) Remove(other Flags) Flags {
	return f &^ other
}

// updated clears every readiness bit and unions in newBits, preserving
// poll_* and lifecycle bits. Used by Record.UpdateFlags.
func (f Flags) updated(newBits Flags) Flags {
	return f.Remove(readinessMask).Union(newBits)
}

// pollRequestCount returns how many of the four poll_* bits are set; used to
// check the "at most one poll_* bit while needs_rearm is clear" invariant
// in tests.
func (f Flags) pollRequestCount() int {
	n := 0
	for _, bit := range [...]Flags{FlagPollReadable, FlagPollWritable, FlagPollProcess, FlagPollMachport} {
		if f.Has(bit) {
			n++
		}
	}
	return n
}
