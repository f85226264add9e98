// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package vm

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/cpu"
)

const (
	laneWidthEnvVar = "UDFC_LANE_WIDTH"

	minLaneWidth = 8
	maxLaneWidth = 4096
)

// LaneWidth is the number of rows that an
// artifact processes together. It is read
// when an artifact is emitted, so it can be
// changed at startup or in tests.
var LaneWidth = DetectLaneWidth()

// laneWidthFromCPUFeatures picks a lane group size
// from the widest vector extension the CPU supports;
// wider registers amortize the per-group dispatch
// over more rows.
func laneWidthFromCPUFeatures() int {
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW:
		return 512
	case cpu.X86.HasAVX2:
		return 256
	case cpu.ARM64.HasASIMD:
		return 128
	}
	return 64
}

// DetectLaneWidth determines the lane width based on
// both CPU features and the UDFC_LANE_WIDTH environment
// variable, which overrides the detection. The width is
// rounded up to a multiple of 8 and clamped to [8, 4096].
func DetectLaneWidth() int {
	val, _ := os.LookupEnv(laneWidthEnvVar)
	val = strings.TrimSpace(val)
	if val == "" {
		return laneWidthFromCPUFeatures()
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		errorf("vm: ignoring %s=%q: %s", laneWidthEnvVar, val, err)
		return laneWidthFromCPUFeatures()
	}
	return clampWidth(n)
}

func clampWidth(n int) int {
	n = (n + 7) &^ 7
	return min(max(n, minLaneWidth), maxLaneWidth)
}
