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
	"golang.org/x/sys/unix"

	"filepoll/log"
)

// This file provides minimal, non-protocol reference implementations of
// every owner kind named by the dispatch table (§4.5/§4.7) - enough to
// exercise Register/Unregister/OnUpdate end to end. These are deliberately
// not full connection/process/resolver stacks (out of scope per the
// module's purpose); callers embedding this package in a real runtime are
// expected to supply their own owners satisfying Readable/Writable/
// ProcessWatcher/DNSPollable/MachportWatcher/ScriptOutputReader/
// ScriptPidWatcher instead.

// FIFOReader is a reference Readable owner for a pipe or FIFO-backed fd.
// Grounded on poller_epoll_test.go/poller_kqueue_test.go's bare-fd test
// doubles, generalized into a real owner instead of a throwaway test
// struct.
type FIFOReader struct {
	KeepAlive
	record *Record
	buf    []byte

	// OnData is invoked with each chunk read and whether the peer hung up.
	// Left nil, FIFOReader simply drains and discards.
	OnData func(data []byte, hasHup bool)
}

// NewFIFOReader allocates and registers a FIFOReader for fd on loop.
func NewFIFOReader(loop *Loop, fd int, bufSize int, oneShot bool) (*FIFOReader, error) {
	f := &FIFOReader{buf: make([]byte, bufSize)}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindFIFOReader, f)
	f.record = r
	if err := r.Register(loop, FlagPollReadable, oneShot); err != nil {
		return nil, err
	}
	return f, nil
}

// Ready implements Readable. sizeOrOffset is the byte count the backend
// reported (0 on platforms/filters that don't report one, in which case a
// single Read is attempted against the buffer).
func (f *FIFOReader) Ready(sizeOrOffset int, hasHup bool) {
	n := sizeOrOffset
	if n <= 0 || n > len(f.buf) {
		n = len(f.buf)
	}
	read, err := unix.Read(f.record.fd, f.buf[:n])
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		hasHup = true
	}
	if read < 0 {
		read = 0
	}
	if f.OnData != nil {
		f.OnData(f.buf[:read], hasHup)
	}
}

// Close tears down the FIFOReader's registration.
func (f *FIFOReader) Close(loop *Loop) error {
	f.Disable(loop)
	return f.record.Deinit(loop)
}

// WriteSink is a reference Writable owner for a pipe/fd the caller wants to
// know is ready for writing (a "you may call Write again" notification,
// level-triggered unless registered one-shot; it does not buffer or perform
// the write itself).
type WriteSink struct {
	KeepAlive
	record *Record

	// OnWritable is invoked once per writable notification.
	OnWritable func()
}

// NewWriteSink allocates and registers a WriteSink for fd on loop.
func NewWriteSink(loop *Loop, fd int, oneShot bool) (*WriteSink, error) {
	w := &WriteSink{}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindWriteSink, w)
	w.record = r
	if err := r.Register(loop, FlagPollWritable, oneShot); err != nil {
		return nil, err
	}
	return w, nil
}

// OnPoll implements Writable.
func (w *WriteSink) OnPoll(sizeOrOffset int, flags int) {
	if w.OnWritable != nil {
		w.OnWritable()
	}
}

// Close tears down the WriteSink's registration.
func (w *WriteSink) Close(loop *Loop) error {
	w.Disable(loop)
	return w.record.Deinit(loop)
}

// SubprocessWatcher is a reference ProcessWatcher owner, notified exactly
// once when the kernel reports the watched process has exited (EVFILT_PROC /
// NOTE_EXIT on BSD). Linux has no process-exit filter: the epoll backend
// registers the value passed as pid as a file descriptor on the readable
// filter, so there it must be a pidfd, which epoll reports readable once
// the process exits.
type SubprocessWatcher struct {
	KeepAlive
	record *Record
	pid    int

	// OnExit is invoked once, on the loop thread, when the pid exits.
	OnExit func(pid int)
}

// NewSubprocessWatcher allocates and registers a SubprocessWatcher for pid
// on loop.
func NewSubprocessWatcher(loop *Loop, pid int) (*SubprocessWatcher, error) {
	s := &SubprocessWatcher{pid: pid}
	r := loop.Acquire()
	r.SetFD(pid)
	r.SetOwner(OwnerKindSubprocess, s)
	r.SetKeepsEventLoopAlive(true)
	s.record = r
	if err := r.Register(loop, FlagPollProcess, true); err != nil {
		return nil, err
	}
	return s, nil
}

// OnExitNotificationTask implements ProcessWatcher.
func (s *SubprocessWatcher) OnExitNotificationTask() {
	if s.OnExit != nil {
		s.OnExit(s.pid)
	}
}

// Close tears down the SubprocessWatcher's registration.
func (s *SubprocessWatcher) Close(loop *Loop) error {
	s.Disable(loop)
	return s.record.Deinit(loop)
}

// DNSResolver is a reference DNSPollable owner. A real resolver would own a
// socket to a nameserver and decode responses; this stub only demonstrates
// the dispatch path, typically handing the heavy lifting to Submit so DNS
// parsing doesn't run on the loop thread.
type DNSResolver struct {
	KeepAlive
	record *Record

	// OnResolve is invoked (via Submit, off the loop thread) whenever the
	// record becomes readable.
	OnResolve func()
}

// NewDNSResolver allocates and registers a DNSResolver for fd on loop.
func NewDNSResolver(loop *Loop, fd int) (*DNSResolver, error) {
	d := &DNSResolver{}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindDNSResolver, d)
	d.record = r
	if err := r.Register(loop, FlagPollReadable, false); err != nil {
		return nil, err
	}
	return d, nil
}

// OnDNSPoll implements DNSPollable.
func (d *DNSResolver) OnDNSPoll(record *Record) {
	if d.OnResolve == nil {
		return
	}
	if err := Submit(d.OnResolve); err != nil {
		log.Errorf("filepoll: DNSResolver Submit failed: %v", err)
	}
}

// Close tears down the DNSResolver's registration.
func (d *DNSResolver) Close(loop *Loop) error {
	d.Disable(loop)
	return d.record.Deinit(loop)
}

// MachportWatcher is a reference MachportWatcher owner (Darwin only in
// practice; see kqueue_machport_darwin.go).
type machportWatcherOwner struct {
	KeepAlive
	record *Record

	OnChange func()
}

// NewMachportWatcher allocates and registers a machportWatcherOwner for fd
// (a mach port's backing fd representation) on loop.
func NewMachportWatcher(loop *Loop, fd int) (*machportWatcherOwner, error) {
	m := &machportWatcherOwner{}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindMachportWatcher, m)
	m.record = r
	if err := r.Register(loop, FlagPollMachport, false); err != nil {
		return nil, err
	}
	return m, nil
}

// OnMachportChange implements MachportWatcher.
func (m *machportWatcherOwner) OnMachportChange() {
	if m.OnChange != nil {
		m.OnChange()
	}
}

// Close tears down the machportWatcherOwner's registration.
func (m *machportWatcherOwner) Close(loop *Loop) error {
	m.Disable(loop)
	return m.record.Deinit(loop)
}

// ScriptOutputPipe is a reference ScriptOutputReader owner, for collecting
// a lifecycle script's stdout/stderr pipe.
type ScriptOutputPipe struct {
	KeepAlive
	record *Record
	buf    []byte

	OnChunk func(data []byte)
}

// NewScriptOutputPipe allocates and registers a ScriptOutputPipe for fd on
// loop.
func NewScriptOutputPipe(loop *Loop, fd int, bufSize int) (*ScriptOutputPipe, error) {
	p := &ScriptOutputPipe{buf: make([]byte, bufSize)}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindScriptOutputReader, p)
	p.record = r
	if err := r.Register(loop, FlagPollReadable, false); err != nil {
		return nil, err
	}
	return p, nil
}

// OnPoll implements ScriptOutputReader.
func (p *ScriptOutputPipe) OnPoll(sizeOrOffset int) {
	n := sizeOrOffset
	if n <= 0 || n > len(p.buf) {
		n = len(p.buf)
	}
	read, _ := unix.Read(p.record.fd, p.buf[:n])
	if read > 0 && p.OnChunk != nil {
		p.OnChunk(p.buf[:read])
	}
}

// Close tears down the ScriptOutputPipe's registration.
func (p *ScriptOutputPipe) Close(loop *Loop) error {
	p.Disable(loop)
	return p.record.Deinit(loop)
}

// ScriptPidPipe is a reference ScriptPidWatcher owner, for a lifecycle
// script's pid-reporting pipe (the script writes its own pid once it
// execs).
type ScriptPidPipe struct {
	KeepAlive
	record *Record

	OnPid func(offset int)
}

// NewScriptPidPipe allocates and registers a ScriptPidPipe for fd on loop.
func NewScriptPidPipe(loop *Loop, fd int) (*ScriptPidPipe, error) {
	p := &ScriptPidPipe{}
	r := loop.Acquire()
	r.SetFD(fd)
	r.SetOwner(OwnerKindScriptPidWatcher, p)
	p.record = r
	if err := r.Register(loop, FlagPollReadable, true); err != nil {
		return nil, err
	}
	return p, nil
}

// OnProcessUpdate implements ScriptPidWatcher.
func (p *ScriptPidPipe) OnProcessUpdate(sizeOrOffset int) {
	if p.OnPid != nil {
		p.OnPid(sizeOrOffset)
	}
}

// Close tears down the ScriptPidPipe's registration.
func (p *ScriptPidPipe) Close(loop *Loop) error {
	p.Disable(loop)
	return p.record.Deinit(loop)
}
