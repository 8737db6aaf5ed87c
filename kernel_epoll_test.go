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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run the real epollBackend - a genuine epoll_create1/epoll_ctl/
// epoll_wait cycle against real pipe fds - the same way poller_epoll_test.go's
// TestNormal drives the teacher's epoll struct against a real eventfd instead
// of a fake. loop.Run() is left running for the life of the test binary
// rather than stopped, matching poller_epoll_test.go, which never shuts down
// the pollmgr it starts either.

func TestEpollBackendOneShotRequiresExplicitRearm(t *testing.T) {
	loop, err := NewLoop(LoopKindMini)
	require.NoError(t, err)
	go loop.Run()

	r, w := newTestPipe(t)
	defer r.Close()
	defer w.Close()

	var calls int32
	dataCh := make(chan struct{}, 4)
	f, err := NewFIFOReader(loop, int(r.Fd()), 64, true)
	require.NoError(t, err)
	f.OnData = func(data []byte, hasHup bool) {
		atomic.AddInt32(&calls, 1)
		dataCh <- struct{}{}
	}

	_, err = w.Write([]byte("a"))
	require.NoError(t, err)

	select {
	case <-dataCh:
	case <-timeoutChan():
		t.Fatal("one-shot readable event was never delivered")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, f.record.Flags().Has(FlagNeedsRearm), "one-shot registration must mark needs_rearm after firing")

	// The kernel has already forgotten this fd; a second write must not
	// produce a second dispatch until the fd is explicitly rearmed.
	_, err = w.Write([]byte("b"))
	require.NoError(t, err)
	select {
	case <-dataCh:
		t.Fatal("fd fired again without being rearmed")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, f.record.Register(loop, FlagPollReadable, true))
	select {
	case <-dataCh:
	case <-timeoutChan():
		t.Fatal("rearmed fd never fired")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	require.NoError(t, f.Close(loop))
}

// TestEpollBackendDropsEventForRecordDeinitializedWithinSameBatch exercises
// spec.md §8 scenario 4: a record whose owner frees it in response to one
// event in a batch must not be dispatched to again for an already-read event
// later in that same batch. Both pipes are primed before Run's first
// epoll_wait call so both events land in the same ready-batch regardless of
// epoll_wait's internal ordering; whichever owner is dispatched first tears
// down the other, so the guard in onTick (dispatch.go) is exercised no
// matter which one the kernel happens to report first.
func TestEpollBackendDropsEventForRecordDeinitializedWithinSameBatch(t *testing.T) {
	loop, err := NewLoop(LoopKindMini)
	require.NoError(t, err)

	r1, w1 := newTestPipe(t)
	defer r1.Close()
	defer w1.Close()
	r2, w2 := newTestPipe(t)
	defer r2.Close()
	defer w2.Close()

	var totalCalls int32
	doneCh := make(chan struct{}, 2)

	f1, err := NewFIFOReader(loop, int(r1.Fd()), 64, false)
	require.NoError(t, err)
	f2, err := NewFIFOReader(loop, int(r2.Fd()), 64, false)
	require.NoError(t, err)
	f1.OnData = func(data []byte, hasHup bool) {
		atomic.AddInt32(&totalCalls, 1)
		_ = f2.Close(loop)
		doneCh <- struct{}{}
	}
	f2.OnData = func(data []byte, hasHup bool) {
		atomic.AddInt32(&totalCalls, 1)
		_ = f1.Close(loop)
		doneCh <- struct{}{}
	}

	_, err = w1.Write([]byte("x"))
	require.NoError(t, err)
	_, err = w2.Write([]byte("y"))
	require.NoError(t, err)

	go loop.Run()

	select {
	case <-doneCh:
	case <-timeoutChan():
		t.Fatal("neither reader ever fired")
	}
	// Give the loop a tick to have delivered (or correctly dropped) the
	// second event in the same batch.
	select {
	case <-doneCh:
		t.Fatal("both readers fired: the already-deinitialized record's event was not dropped")
	case <-time.After(200 * time.Millisecond):
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&totalCalls))
}
