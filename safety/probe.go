// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package safety

import (
	"runtime"
	"runtime/debug"
	"syscall"
)

// SystemProbe is the external collaborator the monitor consults for
// platform facts it cannot itself observe cheaply or portably: total
// system memory, the process's own projected memory footprint, open
// file-descriptor usage, and the process's file-descriptor rlimit.
// Tests substitute a fixed-value stub; production uses
// DefaultSystemProbe.
type SystemProbe interface {
	SystemMemoryBytes() int64
	ProjectedMemoryUsage() int64
	SystemFDUsage() int64
	RLimitNofile() int64
}

// DefaultSystemProbe is a best-effort SystemProbe built entirely from
// the Go runtime and POSIX rlimits: there is no portable stdlib call
// for total system RAM or system-wide FD usage, so the first falls back
// to the runtime's soft memory limit (or a fixed 16 GiB) and the second
// is reported as zero.
type DefaultSystemProbe struct{}

// SystemMemoryBytes approximates total addressable memory via the Go
// runtime's configured soft memory limit when set, or a fixed 16 GiB
// otherwise (debug.SetMemoryLimit(-1) reads, never writes, the limit).
func (DefaultSystemProbe) SystemMemoryBytes() int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		return limit
	}
	return 16 << 30
}

// ProjectedMemoryUsage returns the Go runtime's current heap + stack
// footprint (HeapAlloc + StackSys) as a stand-in for process RSS.
func (DefaultSystemProbe) ProjectedMemoryUsage() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc + ms.StackSys)
}

// SystemFDUsage is approximated as zero: without a /proc-walk or a
// platform syscall package beyond rlimit, there is no portable way to
// count currently-open descriptors. Callers on Linux can supply a
// ProcFS-backed SystemProbe instead.
func (DefaultSystemProbe) SystemFDUsage() int64 { return 0 }

// RLimitNofile returns the process's current soft RLIMIT_NOFILE.
func (DefaultSystemProbe) RLimitNofile() int64 {
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		return 1024
	}
	return int64(rlim.Cur)
}
