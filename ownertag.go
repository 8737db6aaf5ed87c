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
	"fmt"
)

// OwnerKind discriminates the closed set of owner types a Record can be
// bound to. The dispatch table in Record.OnUpdate switches on this value; adding a
// new owner kind requires adding a new case there, never reflection-based
// discovery.
type OwnerKind uint8

// All known owner kinds, plus the reserved Deactivated sentinel used once a
// record has been returned to the store.
const (
	OwnerKindFIFOReader OwnerKind = iota
	OwnerKindWriteSink
	OwnerKindSubprocess
	OwnerKindDNSResolver
	OwnerKindMachportWatcher
	OwnerKindScriptOutputReader
	OwnerKindScriptPidWatcher
	OwnerKindDeactivated
)

var ownerKindNames = [...]string{
	OwnerKindFIFOReader:         "FIFOReader",
	OwnerKindWriteSink:          "WriteSink",
	OwnerKindSubprocess:         "Subprocess",
	OwnerKindDNSResolver:        "DNSResolver",
	OwnerKindMachportWatcher:    "MachportWatcher",
	OwnerKindScriptOutputReader: "ScriptOutputReader",
	OwnerKindScriptPidWatcher:   "ScriptPidWatcher",
	OwnerKindDeactivated:        "Deactivated",
}

// String implements fmt.Stringer.
func (k OwnerKind) String() string {
	if int(k) < len(ownerKindNames) && ownerKindNames[k] != "" {
		return ownerKindNames[k]
	}
	return fmt.Sprintf("OwnerKind(%d)", uint8(k))
}

// TypeNameFromKind returns the Go type name a record of this kind is
// expected to be cast back to, or ("", false) if the kind does not carry a
// live owner (Deactivated).
func TypeNameFromKind(k OwnerKind) (string, bool) {
	switch k {
	case OwnerKindFIFOReader:
		return "Readable", true
	case OwnerKindWriteSink:
		return "Writable", true
	case OwnerKindSubprocess:
		return "ProcessWatcher", true
	case OwnerKindDNSResolver:
		return "DNSPollable", true
	case OwnerKindMachportWatcher:
		return "MachportWatcher", true
	case OwnerKindScriptOutputReader:
		return "ScriptOutputReader", true
	case OwnerKindScriptPidWatcher:
		return "ScriptPidWatcher", true
	default:
		return "", false
	}
}

// deactivatedOwner is a well-known poison value. A Deactivated OwnerTag
// always wraps this, never a bare nil, so a debug assertion can tell
// "deactivated on purpose" apart from "zero value I forgot to initialize".
type deactivatedOwner struct{}

var deactivatedSentinel = &deactivatedOwner{}

// OwnerTag is a tagged pointer: a small integer discriminator packed
// alongside a reference to the owner. It is the Go expression of a closed
// union of owner types - a tag-then-cast, not a virtual call site baked
// into the record. Records are zero-initialized and recycled from a free
// list, so the tag is validated (Kind() checked) before the payload is ever
// cast back, exactly the "tag-then-cast keeps the slow path in one place"
// discipline the systems version uses to avoid dispatching through a vtable
// sitting in reused memory.
//
// Unlike the systems original, the payload here is stored as `any` rather
// than a raw pointer: Go interface values already carry a runtime type tag
// and a safe type assertion panics predictably on mismatch, which is a
// better fit for this language than reinterpreting unsafe.Pointer as an
// arbitrary interface type (interface values are two words, not pointer-
// compatible). OwnerKind remains the authoritative, explicit tag checked
// first; the interface's own type tag is only a second, redundant safety
// net used by OwnerAs.
type OwnerTag struct {
	kind  OwnerKind
	owner any
}

// InitOwnerTag builds an OwnerTag of the given kind wrapping owner. Callers
// must pass the OwnerKind matching owner's actual type; nothing here checks
// that beyond what OwnerAs verifies at cast time.
func InitOwnerTag(kind OwnerKind, owner any) OwnerTag {
	return OwnerTag{kind: kind, owner: owner}
}

// DeactivatedOwnerTag returns the sentinel tag installed once a Record has
// been deinit'd and is waiting in the store's deferred-free queue.
func DeactivatedOwnerTag() OwnerTag {
	return OwnerTag{kind: OwnerKindDeactivated, owner: deactivatedSentinel}
}

// Kind returns the owner kind this tag was built with.
func (t OwnerTag) Kind() OwnerKind {
	return t.kind
}

// OwnerAs reinterprets the tag's payload as T, returning the zero value and
// false if the tag does not carry a T (including every Deactivated tag).
func OwnerAs[T any](t OwnerTag) (T, bool) {
	v, ok := t.owner.(T)
	return v, ok
}

// Readable is implemented by read pipes and FIFO-backed owners.
type Readable interface {
	Ready(sizeOrOffset int, hasHup bool)
}

// Writable is implemented by write sinks and captured writers.
type Writable interface {
	OnPoll(sizeOrOffset int, flags int)
}

// ProcessWatcher is implemented by subprocess owners (including shell
// variants), notified exactly once when their watched pid exits.
type ProcessWatcher interface {
	OnExitNotificationTask()
}

// DNSPollable is implemented by DNS resolver owners.
type DNSPollable interface {
	OnDNSPoll(record *Record)
}

// MachportWatcher is implemented by BSD-only mach-port address-info request
// owners.
type MachportWatcher interface {
	OnMachportChange()
}

// ScriptOutputReader is implemented by lifecycle-script output reader
// owners.
type ScriptOutputReader interface {
	OnPoll(sizeOrOffset int)
}

// ScriptPidWatcher is implemented by lifecycle-script pid data owners.
type ScriptPidWatcher interface {
	OnProcessUpdate(sizeOrOffset int)
}
