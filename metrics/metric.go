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

// Package metrics provides runtime monitoring counters for the poll
// subsystem, in the same always-on, zero-config style the teacher's
// metrics package provides for its TCP/UDP/epoll counters.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// KernelWaitCalls counts epoll_wait/kevent invocations.
	KernelWaitCalls = iota
	// KernelWaitNoBlock counts epoll_wait/kevent invocations made with a
	// zero timeout (immediately following a non-empty batch).
	KernelWaitNoBlock
	// EventsDelivered counts ready events handed to onTick across all
	// kernel waits.
	EventsDelivered
	// Registrations counts successful Record.Register calls.
	Registrations
	// RegistrationFailures counts epoll_ctl/kevent failures from Register.
	RegistrationFailures
	// Deregistrations counts successful Record.Unregister calls that issued
	// a real syscall (needs_rearm short-circuits are not counted here).
	Deregistrations
	// DeferredFrees counts records returned to the hive by
	// processDeferredFrees.
	DeferredFrees
	// StaleDispatchesDropped counts onTick calls dropped due to
	// ignore_updates, a deactivated owner, or (BSD only) a generation
	// mismatch.
	StaleDispatchesDropped
	// KeepAliveRefs counts KeepAlive transitions into the active state.
	KeepAliveRefs
	// KeepAliveUnrefs counts KeepAlive transitions out of the active state.
	KeepAliveUnrefs
	// TasksSubmitted counts Submit calls handed off to the background pool.
	TasksSubmitted
	// Max is the number of defined metric slots.
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### filepoll metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-59s: %d\n", "# number of epoll_wait/kevent calls", m[KernelWaitCalls])
	fmt.Printf("%-59s: %d\n", "# number of non-blocking epoll_wait/kevent calls", m[KernelWaitNoBlock])
	fmt.Printf("%-59s: %d\n", "# number of events delivered to onTick", m[EventsDelivered])
	if m[KernelWaitCalls] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# average events per wait call",
			float64(m[EventsDelivered])/float64(m[KernelWaitCalls]))
	}
	fmt.Printf("%-59s: %d\n", "# number of successful registrations", m[Registrations])
	fmt.Printf("%-59s: %d\n", "# number of failed registrations", m[RegistrationFailures])
	fmt.Printf("%-59s: %d\n", "# number of deregistrations", m[Deregistrations])
	fmt.Printf("%-59s: %d\n", "# number of records returned to the hive", m[DeferredFrees])
	fmt.Printf("%-59s: %d\n", "# number of stale dispatches dropped", m[StaleDispatchesDropped])
	fmt.Printf("%-59s: %d\n", "# number of keep-alive refs", m[KeepAliveRefs])
	fmt.Printf("%-59s: %d\n", "# number of keep-alive unrefs", m[KeepAliveUnrefs])
	fmt.Printf("%-59s: %d\n", "# number of tasks submitted to the background pool", m[TasksSubmitted])
	fmt.Printf("\n")
}
