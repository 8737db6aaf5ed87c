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

	"github.com/pkg/errors"
)

// EpollCtlError reports an epoll_ctl(2) failure (Linux backend only).
type EpollCtlError struct {
	Op   string // "add", "mod", or "del"
	Errno error
}

// Error implements error.
func (e *EpollCtlError) Error() string {
	return fmt.Sprintf("epoll_ctl %s: %v", e.Op, e.Errno)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying errno.
func (e *EpollCtlError) Unwrap() error {
	return e.Errno
}

// KEventError reports a kevent(2) failure (BSD backend only), whether a
// process-level syscall errno or a per-change EV_ERROR.data value.
type KEventError struct {
	Op   string // "add", "mod", or "delete"
	Errno error
}

// Error implements error.
func (e *KEventError) Error() string {
	return fmt.Sprintf("kevent %s: %v", e.Op, e.Errno)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying errno.
func (e *KEventError) Unwrap() error {
	return e.Errno
}

// wrapEvent annotates err with the Event it occurred during, in the same
// shape the teacher's poller_epoll.go/poller_kqueue.go wrap kernel failures:
// errors.Wrap(err, fmt.Sprintf("event: %s, ...")).
func wrapEvent(err error, evt Flags) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, fmt.Sprintf("flags: %v, connection may be closed", evt))
}
