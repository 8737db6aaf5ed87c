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

//go:build freebsd || dragonfly

package filepoll

// evfiltMachport has no FreeBSD/DragonflyBSD equivalent; mach ports are an
// XNU concept. FlagPollMachport is never requested on these platforms in
// practice (MachportWatcher owners are Darwin-only, per spec), so this
// value only needs to be distinct from every real EVFILT_* constant.
const evfiltMachport = -100
