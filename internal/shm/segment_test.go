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
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestCreateInitialisesHeader(t *testing.T) {
	seg := createTestSegment(t, "hdr", 8, 256)

	hdr := seg.Header()
	if hdr.Magic() != SegmentMagic {
		t.Fatalf("magic = 0x%016X, want 0x%016X", hdr.Magic(), SegmentMagic)
	}
	if hdr.Version() != SegmentVersion {
		t.Fatalf("version = %d, want %d", hdr.Version(), SegmentVersion)
	}
	if hdr.Head() != 0 || hdr.Tail() != 0 {
		t.Fatalf("fresh segment has head=%d tail=%d, want 0/0", hdr.Head(), hdr.Tail())
	}
	if hdr.MsgCount() != 0 || hdr.DropCount() != 0 {
		t.Fatalf("fresh segment has counters %d/%d, want 0/0", hdr.MsgCount(), hdr.DropCount())
	}
	if hdr.NumSlots() != 8 || hdr.SlotSize() != 256 {
		t.Fatalf("geometry = %d×%d, want 8×256", hdr.NumSlots(), hdr.SlotSize())
	}
	if want := SegmentSize(8, 256); uint64(len(seg.Mem)) != want {
		t.Fatalf("segment size = %d, want %d", len(seg.Mem), want)
	}
}

func TestHeaderIsLittleEndianOnDisk(t *testing.T) {
	seg := createTestSegment(t, "le", 4, 64)

	// The on-disk contract: MAGIC as a little-endian uint64 at
	// offset 0, NUM_SLOTS at 48, SLOT_SIZE at 56.
	if got := binary.LittleEndian.Uint64(seg.Mem[0:8]); got != SegmentMagic {
		t.Fatalf("raw magic bytes = 0x%016X, want 0x%016X", got, SegmentMagic)
	}
	if got := binary.LittleEndian.Uint64(seg.Mem[48:56]); got != 4 {
		t.Fatalf("raw num_slots = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint64(seg.Mem[56:64]); got != 64 {
		t.Fatalf("raw slot_size = %d, want 64", got)
	}
	for i := 64; i < HeaderSize; i++ {
		if seg.Mem[i] != 0 {
			t.Fatalf("reserved byte %d = %d, want 0", i, seg.Mem[i])
		}
	}
}

func TestAttachSeesCreatorState(t *testing.T) {
	seg := createTestSegment(t, "attach", 16, 128)
	seg.Header().SetHead(7)

	other := attachTestSegment(t, seg.Name)
	if other.Header().Head() != 7 {
		t.Fatalf("attached mapping sees head=%d, want 7", other.Header().Head())
	}
	if other.NumSlots() != 16 || other.SlotSize() != 128 {
		t.Fatalf("attached geometry = %d×%d, want 16×128", other.NumSlots(), other.SlotSize())
	}
}

func TestAttachTimesOutOnMissingSegment(t *testing.T) {
	start := time.Now()
	_, err := Attach(uniqueName(t, "missing"), 50*time.Millisecond)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("attach returned after %v, before the deadline", elapsed)
	}
}

func TestAttachRejectsBadMagic(t *testing.T) {
	seg := createTestSegment(t, "badmagic", 4, 64)
	binary.LittleEndian.PutUint64(seg.Mem[0:8], 0xDEADBEEF)

	_, err := Attach(seg.Name, 50*time.Millisecond)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection for bad magic, got %v", err)
	}
}

func TestAttachRejectsBadVersion(t *testing.T) {
	seg := createTestSegment(t, "badver", 4, 64)
	binary.LittleEndian.PutUint64(seg.Mem[8:16], SegmentVersion+1)

	_, err := Attach(seg.Name, 50*time.Millisecond)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection for bad version, got %v", err)
	}
}

func TestCreateReplacesStaleSegment(t *testing.T) {
	name := uniqueName(t, "stale")

	first, err := Create(name, 4, 64)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	first.Header().SetHead(3)
	// Simulate a crash: no Close, no Unlink.

	second, err := Create(name, 4, 64)
	if err != nil {
		t.Fatalf("create over stale segment failed: %v", err)
	}
	t.Cleanup(func() {
		second.Close()
		first.Close()
		Unlink(name)
	})

	if second.Header().Head() != 0 {
		t.Fatalf("recreated segment has head=%d, want 0", second.Header().Head())
	}
	if !first.Stale() {
		t.Fatal("old mapping should report stale after recreate")
	}
	if second.Stale() {
		t.Fatal("fresh mapping must not report stale")
	}
}

func TestCreateRejectsBadGeometry(t *testing.T) {
	cases := []struct {
		name     string
		numSlots uint64
		slotSize uint64
	}{
		{"zero slots", 0, 64},
		{"tiny slot", 4, MinSlotSize - 1},
	}
	for _, tc := range cases {
		if _, err := Create(uniqueName(t, "badgeo"), tc.numSlots, tc.slotSize); !errors.Is(err, ErrConnection) {
			t.Fatalf("%s: expected ErrConnection, got %v", tc.name, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("shmcomm_pub_ok"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
	for _, bad := range []string{"", "has/slash", "has\\backslash", string(make([]byte, 300))} {
		if err := ValidateName(bad); !errors.Is(err, ErrConnection) {
			t.Fatalf("name %q: expected ErrConnection, got %v", bad, err)
		}
	}
}

func TestUnlinkReportsExistence(t *testing.T) {
	name := uniqueName(t, "unlink")
	seg, err := Create(name, 4, 64)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer seg.Close()

	if !Unlink(name) {
		t.Fatal("Unlink of existing segment returned false")
	}
	if Unlink(name) {
		t.Fatal("second Unlink returned true for absent segment")
	}
}

func TestSegmentCloseIsIdempotent(t *testing.T) {
	seg := createTestSegment(t, "close", 4, 64)
	if err := seg.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestListFindsPrefixedSegments(t *testing.T) {
	seg := createTestSegment(t, "list", 4, 64)

	found := false
	for _, name := range List() {
		if name == seg.Name {
			found = true
		}
	}
	if !found {
		t.Fatalf("List() did not include %s", seg.Name)
	}
}

func TestSegmentNaming(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{PubSegmentName("pose"), "shmcomm_pub_pose"},
		{ReqSegmentName("ctl"), "shmcomm_req_ctl"},
		{RepSegmentName("ctl"), "shmcomm_rep_ctl"},
		{PushSegmentName("jobs"), "shmcomm_push_jobs"},
		{PubSegmentName("robot/pose"), "shmcomm_pub_robot_pose"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("segment name = %q, want %q", tc.got, tc.want)
		}
	}
}
