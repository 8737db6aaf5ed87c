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
	"github.com/panjf2000/ants/v2"

	"filepoll/metrics"
)

// maxRoutines of 0 tells ants to use an effectively unbounded pool
// (math.MaxInt32 goroutines), the same convention taskpool.go uses.
const maxRoutines = 0

// taskPool is a package-level background worker pool (C11), grounded on
// taskpool.go's usrPool. Where the teacher's pool fans out TCP/UDP
// connection callbacks, this one exists so the reference owners (C10) -
// and any caller's own owner implementations - can move blocking follow-up
// work out of onTick without holding up the loop thread. It is not on the
// registration/dispatch critical path: nothing in Record/Loop/Store calls
// into it.
var taskPool, _ = ants.NewPool(maxRoutines)

// Submit hands task to the background pool. Intended for use from inside
// an owner's dispatch-table callback (Ready, OnExitNotificationTask,
// OnDNSPoll, ...) to defer expensive work off the loop goroutine.
func Submit(task func()) error {
	metrics.Add(metrics.TasksSubmitted, 1)
	return taskPool.Submit(task)
}
