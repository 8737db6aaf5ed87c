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

//go:build darwin

package filepoll

// evfiltMachport is XNU's EVFILT_MACHPORT, not exposed by
// golang.org/x/sys/unix: mach-port readiness (poll_machport /
// MachportWatcher) only exists on Darwin's kqueue.
const evfiltMachport = -8
