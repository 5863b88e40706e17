/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package capability gates optional engine features behind a build-version
// threshold table, the same way the teaching library gates which tcp_info
// fields are safe to read behind the running kernel's version.
package capability

import "github.com/docker/docker/pkg/parsers/kernel"

// BuildVersion is this engine build's own version, expressed the same
// VersionInfo-shaped way a running kernel's version is, so it can be
// compared against a descending feature-threshold table with
// kernel.CompareKernelVersion. It is the structured descendant of the
// reference engine's bare "2.3.0" version string constant.
var BuildVersion = kernel.VersionInfo{Kernel: 2, Major: 4, Minor: 0}

// Feature flags, flipped by adapt (run from init below and SetBuildVersion).
var (
	CustomChecksumHooks = false
	MultipartSend       = false
	ExternalSendLock    = false
	WideFields          = false // ID/LEN/TYPE widths wider than 1 byte
)

// threshold pairs a feature flag with the build version at which it first
// became available.
type threshold struct {
	version kernel.VersionInfo
	flag    *bool
}

// table is ordered oldest-to-newest, exactly like the teaching library's
// tcpInfoSizes table, and is walked the same way: newest-to-oldest, looking
// for the first entry at or below BuildVersion, then flipping every flag
// from that point down to true.
var table = []threshold{
	{kernel.VersionInfo{Kernel: 1, Major: 0, Minor: 0}, &WideFields},
	{kernel.VersionInfo{Kernel: 2, Major: 0, Minor: 0}, &MultipartSend},
	{kernel.VersionInfo{Kernel: 2, Major: 2, Minor: 0}, &ExternalSendLock},
	{kernel.VersionInfo{Kernel: 2, Major: 4, Minor: 0}, &CustomChecksumHooks},
}

func init() {
	adapt()
}

// adapt is the direct analogue of adaptToKernelVersion(): find the newest
// threshold at or below BuildVersion and flip every flag from there down to
// the oldest; anything newer than the satisfied threshold stays false.
func adapt() {
	for i := len(table) - 1; i >= 0; i-- {
		if kernel.CompareKernelVersion(BuildVersion, table[i].version) >= 0 {
			for j := i; j >= 0; j-- {
				*table[j].flag = true
			}
			return
		}
		*table[i].flag = false // needed if BuildVersion is overridden in tests
	}
}

// SetBuildVersion overrides BuildVersion and re-evaluates every feature
// flag. Exposed for tests that want to exercise gating at specific
// thresholds without rebuilding the binary.
func SetBuildVersion(v kernel.VersionInfo) {
	BuildVersion = v
	adapt()
}
