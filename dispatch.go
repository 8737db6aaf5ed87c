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
	"filepoll/log"
	"filepoll/metrics"
)

// onTick is the single entry point the kernel backend calls once per ready
// record per tick (C8). In the systems original this is the C-callable
// callback the embedding VM invokes with a raw tagged pointer it must
// decode before doing anything else; here the backend has already decoded
// the kernel event back into a *Record (the unsafe-pointer round trip lives
// entirely inside kernel_epoll.go/kernel_kqueue.go, including the BSD-only
// generation check, since only the backend has the raw kevent to read the
// echoed generation off), so onTick's job is exactly the rest of the
// validate-then-dispatch contract: drop anything that is not safe to act
// on, fold the translated flags in, and hand off to the owner.
//
// bits carries only the readiness bits the backend already translated from
// the kernel event (FlagReadable/FlagWritable/FlagProcess/FlagMachport/
// FlagEOF/FlagHUP); sizeOrOffset is the byte count or offset the kernel
// reported alongside it, passed straight through to the owner.
func onTick(r *Record, bits Flags, sizeOrOffset int) {
	if r.flags.Has(FlagIgnoreUpdates) {
		metrics.Add(metrics.StaleDispatchesDropped, 1)
		log.Debugf("filepoll: dropping event for fd %d, record is pending free", r.fd)
		return
	}
	if r.owner.Kind() == OwnerKindDeactivated {
		metrics.Add(metrics.StaleDispatchesDropped, 1)
		log.Debugf("filepoll: dropping event for fd %d, owner already deactivated", r.fd)
		return
	}
	r.UpdateFlags(bits)
	r.OnUpdate(sizeOrOffset)
}
