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
	"fmt"
)

// Ring is the lock-free broadcast ring over a segment: one writer,
// any number of independent readers. The writer overwrites on full;
// each reader carries a private monotonic cursor and detects lapping
// itself.
type Ring struct {
	seg *Segment
}

// NewRing wraps a segment in a broadcast ring view.
func NewRing(seg *Segment) *Ring {
	return &Ring{seg: seg}
}

// Segment returns the underlying segment.
func (r *Ring) Segment() *Segment { return r.seg }

// writeSlot stores [L][payload] into the slot for index idx. Does not
// advance any pointer.
func writeSlot(seg *Segment, idx uint64, payload []byte) {
	off := seg.slotOffset(idx)
	binary.LittleEndian.PutUint32(seg.Mem[off:off+SlotPrefixSize], uint32(len(payload)))
	copy(seg.Mem[off+SlotPrefixSize:off+SlotPrefixSize+uint64(len(payload))], payload)
}

// readSlot copies out the payload stored in the slot for index idx.
// The returned length is clamped to the slot capacity so a torn
// prefix can never index outside the slot; torn payloads are caught
// by the caller's post-read HEAD check.
func readSlot(seg *Segment, idx uint64) []byte {
	off := seg.slotOffset(idx)
	l := uint64(binary.LittleEndian.Uint32(seg.Mem[off : off+SlotPrefixSize]))
	if max := seg.slotSize - SlotPrefixSize; l > max {
		l = max
	}
	payload := make([]byte, l)
	copy(payload, seg.Mem[off+SlotPrefixSize:off+SlotPrefixSize+l])
	return payload
}

// Write publishes payload to the ring. It never blocks: when the ring
// is full the oldest slot is overwritten and DROP_COUNT is bumped.
// The slot bytes are fully written before HEAD is advanced; the HEAD
// store is the commit point readers synchronise on.
func (r *Ring) Write(payload []byte) error {
	seg := r.seg
	if len(payload) > seg.MaxPayload() {
		return fmt.Errorf("%w: %d bytes exceeds slot capacity %d",
			ErrPayloadTooLarge, len(payload), seg.MaxPayload())
	}

	hdr := seg.Header()
	h := hdr.Head()

	writeSlot(seg, h, payload)

	// Optimistic overwrite accounting: once the ring has wrapped,
	// every write clobbers a previously published slot. Correctness
	// does not depend on this counter.
	if h >= seg.numSlots {
		hdr.AddDropCount(1)
	}

	hdr.SetHead(h + 1)
	hdr.AddMsgCount(1)
	return nil
}

// ReadResult carries the outcome of a broadcast read.
type ReadResult struct {
	Payload []byte // the message, nil when OK is false
	Tail    uint64 // the caller's advanced cursor
	Dropped uint64 // messages skipped due to lapping during this call
	OK      bool   // false when no new message was available
}

// Read attempts one non-blocking read at the reader's private cursor.
//
// The read-then-reverify dance is the torn-read defence: the slot is
// copied out, then HEAD is re-observed; if the writer came within one
// lap of the cursor during the copy the slot may have been rewritten
// underneath us, so the copy is discarded and the cursor skips to the
// oldest still-valid slot.
func (r *Ring) Read(localTail uint64) ReadResult {
	seg := r.seg
	hdr := seg.Header()
	var dropped uint64

	for {
		h := hdr.Head()
		if h == localTail {
			return ReadResult{Tail: localTail, Dropped: dropped}
		}

		if h-localTail > seg.numSlots {
			// Lapped: everything up to HEAD-NUM_SLOTS is gone.
			// Keep the oldest slot the writer cannot touch before
			// publishing a new HEAD.
			skipTo := h - seg.numSlots + 1
			dropped += skipTo - localTail
			localTail = skipTo
		}

		payload := readSlot(seg, localTail)

		if h2 := hdr.Head(); h2-localTail >= seg.numSlots {
			// The writer reached this slot mid-copy; the bytes may
			// be torn. Discard and retry from the new oldest slot.
			skipTo := h2 - seg.numSlots + 1
			dropped += skipTo - localTail
			localTail = skipTo
			continue
		}

		return ReadResult{
			Payload: payload,
			Tail:    localTail + 1,
			Dropped: dropped,
			OK:      true,
		}
	}
}
