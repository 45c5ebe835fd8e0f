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

// Package shm implements the shared memory segment core: segment
// lifecycle, the binary header layout that all participants agree
// upon, the broadcast and claim ring protocols, and the cross-process
// advisory lock.
package shm

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic value identifying a segment: the ASCII bytes "SHMCOMM1"
	// read as a big-endian 64-bit integer. Like every header field it
	// is stored little-endian.
	SegmentMagic = uint64(0x53484D434F4D4D31)

	// Current header format version
	SegmentVersion = uint64(1)

	// Segment header size in bytes
	HeaderSize = 128

	// Each slot begins with a uint32 payload-length prefix.
	SlotPrefixSize = 4

	// MinSlotSize is the smallest usable slot: the 4-byte prefix
	// plus at least 4 payload bytes.
	MinSlotSize = 8

	// Segment names must fit the platform shared-memory name limit.
	MaxNameLen = 255
)

// Header field offsets, all 64-bit little-endian values.
const (
	offMagic     = 0
	offVersion   = 8
	offHead      = 16
	offTail      = 24
	offMsgCount  = 32
	offDropCount = 40
	offNumSlots  = 48
	offSlotSize  = 56
)

// SegmentSize returns the total byte size for the given ring geometry.
func SegmentSize(numSlots, slotSize uint64) uint64 {
	return HeaderSize + numSlots*slotSize
}

// headerView provides typed atomic access to the 128-byte header at
// the start of a mapped segment. HEAD and TAIL require acquire/release
// ordering; sync/atomic 64-bit loads and stores provide sequential
// consistency, which is strictly stronger.
type headerView struct {
	basePtr unsafe.Pointer
}

// field returns a pointer to the 64-bit header field at off.
func (h *headerView) field(off uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(h.basePtr) + off))
}

// Magic returns the segment magic value
func (h *headerView) Magic() uint64 {
	return atomic.LoadUint64(h.field(offMagic))
}

// Version returns the header format version
func (h *headerView) Version() uint64 {
	return atomic.LoadUint64(h.field(offVersion))
}

// Head returns the next write index (monotonic, not modulo)
func (h *headerView) Head() uint64 {
	return atomic.LoadUint64(h.field(offHead))
}

// SetHead publishes a new write index. The store is the commit point
// for a slot write: all slot bytes must be written before it.
func (h *headerView) SetHead(v uint64) {
	atomic.StoreUint64(h.field(offHead), v)
}

// Tail returns the shared read index (work-queue only)
func (h *headerView) Tail() uint64 {
	return atomic.LoadUint64(h.field(offTail))
}

// SetTail stores the shared read index. Callers must hold the claim
// lock for the segment.
func (h *headerView) SetTail(v uint64) {
	atomic.StoreUint64(h.field(offTail), v)
}

// MsgCount returns the total number of successful writes
func (h *headerView) MsgCount() uint64 {
	return atomic.LoadUint64(h.field(offMsgCount))
}

// AddMsgCount increments the successful-write counter
func (h *headerView) AddMsgCount(n uint64) {
	atomic.AddUint64(h.field(offMsgCount), n)
}

// DropCount returns the drop counter: overwrites for broadcast rings,
// rejected non-blocking writes for claim rings. Best-effort only.
func (h *headerView) DropCount() uint64 {
	return atomic.LoadUint64(h.field(offDropCount))
}

// AddDropCount increments the drop counter
func (h *headerView) AddDropCount(n uint64) {
	atomic.AddUint64(h.field(offDropCount), n)
}

// NumSlots returns the ring depth, immutable after creation
func (h *headerView) NumSlots() uint64 {
	return atomic.LoadUint64(h.field(offNumSlots))
}

// SlotSize returns the bytes per slot, immutable after creation
func (h *headerView) SlotSize() uint64 {
	return atomic.LoadUint64(h.field(offSlotSize))
}

// init writes the initial header into a freshly created segment. The
// data area and reserved region are already zero (new file pages).
func (h *headerView) init(numSlots, slotSize uint64) {
	atomic.StoreUint64(h.field(offHead), 0)
	atomic.StoreUint64(h.field(offTail), 0)
	atomic.StoreUint64(h.field(offMsgCount), 0)
	atomic.StoreUint64(h.field(offDropCount), 0)
	atomic.StoreUint64(h.field(offNumSlots), numSlots)
	atomic.StoreUint64(h.field(offSlotSize), slotSize)
	atomic.StoreUint64(h.field(offVersion), SegmentVersion)
	// Magic last: attachers treat its presence as "header complete".
	atomic.StoreUint64(h.field(offMagic), SegmentMagic)
}

// validate checks magic and version.
func (h *headerView) validate() error {
	if m := h.Magic(); m != SegmentMagic {
		return fmt.Errorf("%w: invalid magic 0x%016X (expected 0x%016X)",
			ErrConnection, m, SegmentMagic)
	}
	if v := h.Version(); v != SegmentVersion {
		return fmt.Errorf("%w: unsupported header version %d (expected %d)",
			ErrConnection, v, SegmentVersion)
	}
	return nil
}

// Segment is a mapped shared memory segment.
type Segment struct {
	File *os.File // backing file under the segment directory
	Mem  []byte   // the mapped region
	Path string   // absolute file path
	Name string   // OS-level segment name (file base name)

	hdr headerView

	// Identity of the backing file at map time, for staleness checks.
	info os.FileInfo

	// Geometry cached at map time; immutable for the segment's life.
	numSlots uint64
	slotSize uint64
}

// Stale reports whether the backing file has been unlinked or
// replaced since this segment was mapped. A stale mapping stays
// readable but will never see new data; the attached side must
// re-attach.
func (s *Segment) Stale() bool {
	if s.info == nil {
		return false
	}
	cur, err := os.Stat(s.Path)
	if err != nil {
		return true
	}
	return !os.SameFile(s.info, cur)
}

// Header returns the typed header view.
func (s *Segment) Header() *headerView {
	return &s.hdr
}

// NumSlots returns the ring depth.
func (s *Segment) NumSlots() uint64 { return s.numSlots }

// SlotSize returns the bytes per slot.
func (s *Segment) SlotSize() uint64 { return s.slotSize }

// MaxPayload returns the largest payload a slot can hold.
func (s *Segment) MaxPayload() int { return int(s.slotSize) - SlotPrefixSize }

// slotOffset returns the byte offset of the slot holding index idx.
// A slot with index i occupies bytes
// [128 + (i mod NUM_SLOTS)*SLOT_SIZE, 128 + ((i mod NUM_SLOTS)+1)*SLOT_SIZE).
func (s *Segment) slotOffset(idx uint64) uint64 {
	return HeaderSize + (idx%s.numSlots)*s.slotSize
}

// Close unmaps the memory and closes the backing file. It never
// unlinks: detaching consumers must not destroy the segment. Safe to
// call more than once.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
		s.hdr.basePtr = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// ValidateGeometry rejects ring geometries the layout cannot express.
func ValidateGeometry(numSlots, slotSize uint64) error {
	if numSlots < 1 {
		return fmt.Errorf("%w: num_slots %d, need at least 1", ErrConnection, numSlots)
	}
	if slotSize < MinSlotSize {
		return fmt.Errorf("%w: slot_size %d, need at least %d", ErrConnection, slotSize, MinSlotSize)
	}
	return nil
}

// ValidateName rejects segment names the platform cannot express.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty segment name", ErrConnection)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: segment name %q exceeds %d bytes", ErrConnection, name, MaxNameLen)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: segment name %q contains a path separator", ErrConnection, name)
	}
	return nil
}

// Segment name prefixes. One segment per broadcast or push channel,
// two per request-reply channel.
const (
	namePrefix = "shmcomm_"

	rolePub  = "pub"
	roleReq  = "req"
	roleRep  = "rep"
	rolePush = "push"
)

// PubSegmentName returns the OS-level name for a broadcast channel.
func PubSegmentName(channel string) string { return segmentName(rolePub, channel) }

// ReqSegmentName returns the OS-level name for client-to-server
// request-reply traffic.
func ReqSegmentName(channel string) string { return segmentName(roleReq, channel) }

// RepSegmentName returns the OS-level name for server-to-client
// request-reply traffic.
func RepSegmentName(channel string) string { return segmentName(roleRep, channel) }

// PushSegmentName returns the OS-level name for a work-queue channel.
func PushSegmentName(channel string) string { return segmentName(rolePush, channel) }

func segmentName(role, channel string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(channel)
	return namePrefix + role + "_" + safe
}
