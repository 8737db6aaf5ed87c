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

//go:build linux

package filepoll

import (
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"filepoll/metrics"
)

const (
	epollReadFlags  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	epollWriteFlags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
	defaultEventCount = 128
)

// epollFlagsFor returns the epoll_event mask to request for flag, the
// module's generalization of poller_epoll.go's rflags/wflags constants to
// cover the process poll request this spec adds. epoll has no native
// process filter, so a process watch is coerced onto the readable filter:
// a pidfd (the only fd SubprocessWatcher is ever handed on Linux) reports
// EPOLLIN once the process exits, and the decoder's readable bit is read
// by ProcessWatcher owners as "the process is gone" rather than "there are
// bytes to read". poll_machport has no Linux equivalent at all and is
// never requested on this backend (mach ports are Darwin-only).
func epollFlagsFor(flag Flags) uint32 {
	switch flag {
	case FlagPollReadable, FlagPollProcess:
		return epollReadFlags
	case FlagPollWritable:
		return epollWriteFlags
	default:
		return epollReadFlags
	}
}

// epollBackend is the Linux kernelBackend, grounded on
// internal/poller/poller_epoll.go's epoll struct: an epoll fd, a self-pipe
// (here an eventfd, as the teacher already prefers over a pipe) used by
// trigger/wait to interrupt a blocked epoll_wait, and a reusable event
// buffer.
type epollBackend struct {
	fd           int
	wakeFD       int
	wakeSentinel *Record
	wakeBuf      []byte
	events       []unix.EpollEvent
	notified     int32

	ignoreTaskError bool
}

func newPlatformBackend(ignoreTaskError bool) (kernelBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	b := &epollBackend{
		fd:              fd,
		wakeFD:          wakeFD,
		wakeSentinel:    &Record{fd: wakeFD},
		wakeBuf:         make([]byte, 8),
		events:          make([]unix.EpollEvent, defaultEventCount),
		ignoreTaskError: ignoreTaskError,
	}
	evt := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(**Record)(unsafe.Pointer(&evt.Data)) = b.wakeSentinel
	if err := epollCtl(fd, unix.EPOLL_CTL_ADD, wakeFD, evt); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(wakeFD)
		return nil, &EpollCtlError{Op: "add", Errno: err}
	}
	return b, nil
}

func (b *epollBackend) register(r *Record, flag Flags, rearm bool) error {
	mask := epollFlagsFor(flag)
	if r.flags.Has(FlagOneShot) {
		mask |= unix.EPOLLONESHOT
	}
	evt := &unix.EpollEvent{Events: mask}
	*(**Record)(unsafe.Pointer(&evt.Data)) = r
	op := unix.EPOLL_CTL_ADD
	if rearm {
		op = unix.EPOLL_CTL_MOD
	}
	if err := epollCtl(b.fd, op, r.fd, evt); err != nil {
		return wrapEvent(&EpollCtlError{Op: ctlOpName(op), Errno: err}, flag)
	}
	return nil
}

func (b *epollBackend) unregister(r *Record) error {
	if err := epollCtl(b.fd, unix.EPOLL_CTL_DEL, r.fd, nil); err != nil {
		return wrapEvent(&EpollCtlError{Op: "del", Errno: err}, r.flags)
	}
	return nil
}

func ctlOpName(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "add"
	case unix.EPOLL_CTL_MOD:
		return "mod"
	default:
		return "del"
	}
}

func epollCtl(epfd, op, fd int, evt *unix.EpollEvent) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_EPOLL_CTL, uintptr(epfd), uintptr(op), uintptr(fd),
		uintptr(unsafe.Pointer(evt)), 0, 0)
	if errno == 0 {
		return nil
	}
	return errno
}

func epollWait(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	var errno unix.Errno
	var r0 uintptr
	p := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, errno = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.KernelWaitNoBlock, 1)
	} else {
		r0, _, errno = unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	metrics.Add(metrics.KernelWaitCalls, 1)
	if errno != 0 {
		return 0, errno
	}
	metrics.Add(metrics.EventsDelivered, uint64(r0))
	return int(r0), nil
}

// fromEpollEvent translates a raw epoll_event's Events mask into this
// module's Flags readiness bits, the Linux half of spec.md §4.4's
// fromEpollEvent/fromKQueueEvent pair.
func fromEpollEvent(mask uint32) Flags {
	var f Flags
	if mask&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		f |= FlagReadable
	}
	if mask&unix.EPOLLOUT != 0 {
		f |= FlagWritable
	}
	if mask&unix.EPOLLHUP != 0 || mask&unix.EPOLLRDHUP != 0 {
		f |= FlagHUP
	}
	if mask&unix.EPOLLERR != 0 {
		f |= FlagEOF
	}
	return f
}

func (b *epollBackend) wait(deliver func(r *Record, bits Flags, sizeOrOffset int), afterBatch func()) error {
	msec := -1
	for {
		n, err := epollWait(b.fd, b.events, msec)
		if err != nil && err != unix.EINTR {
			return err
		}
		if n <= 0 {
			msec = -1
			runtime.Gosched()
			continue
		}
		msec = 0
		b.handle(n, deliver)
		afterBatch()
	}
}

func (b *epollBackend) handle(n int, deliver func(r *Record, bits Flags, sizeOrOffset int)) {
	for i := 0; i < n; i++ {
		evt := b.events[i]
		r := *(**Record)(unsafe.Pointer(&evt.Data))
		if r == b.wakeSentinel {
			_, _ = unix.Read(b.wakeFD, b.wakeBuf)
			atomic.StoreInt32(&b.notified, 0)
			continue
		}
		deliver(r, fromEpollEvent(evt.Events), 0)
	}
}

func (b *epollBackend) trigger() error {
	if !atomic.CompareAndSwapInt32(&b.notified, 0, 1) {
		return nil
	}
	for {
		_, err := unix.Write(b.wakeFD, []byte{1, 0, 0, 0, 0, 0, 0, 0})
		if err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("write", err)
			}
			return nil
		}
	}
}

func (b *epollBackend) close() error {
	if err := unix.Close(b.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return os.NewSyscallError("close", unix.Close(b.wakeFD))
}
