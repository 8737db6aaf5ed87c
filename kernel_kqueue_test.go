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

//go:build freebsd || dragonfly || darwin

package filepoll

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run the real kqueueBackend - a genuine kqueue/kevent cycle
// against real pipe fds - the BSD/Darwin twin of kernel_epoll_test.go, the
// same way poller_kqueue_test.go drives the teacher's kqueue struct against
// a real pipe instead of a fake. loop.Run() is left running for the life of
// the test binary rather than stopped, matching poller_kqueue_test.go, which
// never shuts down the pollmgr it starts either.

func TestKqueueBackendOneShotRequiresExplicitRearm(t *testing.T) {
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

	// The registration carried EV_ONESHOT, so the kernel has already
	// dropped this filter; a second write must not produce a second
	// dispatch until explicitly rearmed, same as the epoll backend.
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

// TestKqueueBackendDropsEventForRecordDeinitializedWithinSameBatch exercises
// spec.md §8 scenario 4 on the BSD path. Deinit does not bump the record's
// generation itself (only register and the reset done by
// processDeferredFrees, after the whole batch has been dispatched, do), so
// the already-read second event's token.generation still matches and
// kernel_kqueue.go's handle lets it through to deliver - it is onTick's own
// ignore_updates/Deactivated guard (dispatch.go), not the generation check,
// that must drop it here. Both pipes are primed before Run's first kevent
// call so both events land in the same ready-batch regardless of kevent's
// internal ordering.
func TestKqueueBackendDropsEventForRecordDeinitializedWithinSameBatch(t *testing.T) {
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
	select {
	case <-doneCh:
		t.Fatal("both readers fired: the already-deinitialized record's event was not dropped")
	case <-time.After(200 * time.Millisecond):
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&totalCalls))
}
