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
	"sync/atomic"

	"filepoll/log"
)

// LoopPool manages a fixed-size, round-robin group of Loop instances, so a
// host process that wants to spread registrations across more than one OS
// thread does not have to hand-roll its own scheduling. Grounded on
// pollmgr.go's PollMgr scaling a poller set under a pluggable LoadBalance,
// simplified to the one balancing strategy the teacher ships by default
// (loadbalance_roundrobin.go's roundRobinLB): a pool always has a fixed
// loop count fixed at construction, since filepoll's Loop - unlike the
// teacher's poller - has no notion of scaling up after Run has started.
type LoopPool struct {
	loops    []*Loop
	accepted uint64
}

// NewLoopPool starts n Loops of the given kind, each running Run on its own
// goroutine, and returns a LoopPool that round-robins Pick across them. n
// must be at least 1.
func NewLoopPool(kind LoopKind, n int, opts ...Option) (*LoopPool, error) {
	if n < 1 {
		return nil, fmt.Errorf("filepoll: LoopPool size must be at least 1, got %d", n)
	}
	p := &LoopPool{loops: make([]*Loop, 0, n)}
	for i := 0; i < n; i++ {
		loop, err := NewLoop(kind, opts...)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.loops = append(p.loops, loop)
		go func(l *Loop) {
			if err := l.Run(); err != nil {
				log.Errorf("filepoll: loop pool member exited: %v", err)
			}
		}(loop)
	}
	return p, nil
}

// Len returns the number of loops in the pool.
func (p *LoopPool) Len() int {
	return len(p.loops)
}

// Pick returns the next Loop in round-robin order.
func (p *LoopPool) Pick() *Loop {
	idx := int(atomic.AddUint64(&p.accepted, 1)-1) % len(p.loops)
	return p.loops[idx]
}

// Iterate calls f for every loop in the pool, in index order, stopping
// early if f returns false.
func (p *LoopPool) Iterate(f func(idx int, loop *Loop) bool) {
	for i, loop := range p.loops {
		if !f(i, loop) {
			return
		}
	}
}

// Close closes every loop in the pool, returning the first error
// encountered (if any) after attempting to close them all.
func (p *LoopPool) Close() error {
	var firstErr error
	for _, loop := range p.loops {
		if err := loop.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
