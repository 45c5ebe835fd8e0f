/*
 *
 * Copyright 2025 The shmcomm-go Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// uniqueName returns a segment name unique to this test run so
// parallel test binaries never collide on shared OS state.
func uniqueName(t *testing.T, base string) string {
	t.Helper()
	name := fmt.Sprintf("shmcomm_test_%s_%s_%d", base,
		strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	return name
}

// createTestSegment creates a segment with a unique name and registers
// cleanup so it is always unlinked, even when the test fails.
func createTestSegment(t *testing.T, base string, numSlots, slotSize uint64) *Segment {
	t.Helper()

	name := uniqueName(t, base)
	Unlink(name)

	seg, err := Create(name, numSlots, slotSize)
	if err != nil {
		t.Fatalf("failed to create test segment %s: %v", name, err)
	}

	t.Cleanup(func() {
		seg.Close()
		Unlink(name)
	})
	return seg
}

// attachTestSegment attaches a second mapping of an existing test
// segment with cleanup registered.
func attachTestSegment(t *testing.T, name string) *Segment {
	t.Helper()

	seg, err := Attach(name, time.Second)
	if err != nil {
		t.Fatalf("failed to attach to test segment %s: %v", name, err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}
