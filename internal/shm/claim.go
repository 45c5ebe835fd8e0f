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
	"time"
)

// PollInterval is the sleep used by all blocking sleep-poll loops.
const PollInterval = 100 * time.Microsecond

// Queue is the work-queue view over a segment: a ring with a shared
// TAIL advanced under a cross-process claim lock, so each message is
// delivered to exactly one puller. HEAD advances under a symmetric
// producer-side lock, so multiple pushers on one channel are safe.
type Queue struct {
	seg       *Segment
	pushLock  string // producer claim lock path
	claimLock string // consumer claim lock path
}

// NewQueue wraps a segment in a work-queue view. channel is the
// logical channel name the lock paths derive from.
func NewQueue(seg *Segment, channel string) *Queue {
	return &Queue{
		seg:       seg,
		pushLock:  LockPath(channel, true),
		claimLock: LockPath(channel, false),
	}
}

// Segment returns the underlying segment.
func (q *Queue) Segment() *Segment { return q.seg }

// Push appends payload to the queue. When the ring is full: in
// blocking mode it sleep-polls until space frees or timeout elapses
// (timeout <= 0 waits indefinitely); in non-blocking mode it bumps
// DROP_COUNT and returns ErrBufferFull immediately.
//
// The producer lock is only held across a single claim attempt, never
// across a poll sleep.
func (q *Queue) Push(payload []byte, block bool, timeout time.Duration) error {
	seg := q.seg
	if len(payload) > seg.MaxPayload() {
		return fmt.Errorf("%w: %d bytes exceeds slot capacity %d",
			ErrPayloadTooLarge, len(payload), seg.MaxPayload())
	}

	var deadline time.Time
	if block && timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ok, err := q.tryPush(payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if !block {
			seg.Header().AddDropCount(1)
			return fmt.Errorf("%w: ring %q holds %d unclaimed messages",
				ErrBufferFull, seg.Name, seg.numSlots)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: ring %q still full after %v",
				ErrBufferFull, seg.Name, timeout)
		}
		time.Sleep(PollInterval)
	}
}

// tryPush claims a slot under the producer lock and writes payload
// into it. Returns false without error when the ring is full.
func (q *Queue) tryPush(payload []byte) (bool, error) {
	guard, err := AcquireLock(q.pushLock, -1)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	seg := q.seg
	hdr := seg.Header()
	h := hdr.Head()
	t := hdr.Tail()

	if h-t == seg.numSlots {
		return false, nil // full
	}

	writeSlot(seg, h, payload)
	hdr.SetHead(h + 1)
	hdr.AddMsgCount(1)
	return true, nil
}

// Pull claims the next message, if any. The shared TAIL is read and
// advanced under the claim lock so two pullers can never take the
// same slot. Returns (nil, false, nil) when the queue is empty; the
// caller owns any poll loop so the lock is never held while sleeping.
func (q *Queue) Pull() ([]byte, bool, error) {
	guard, err := AcquireLock(q.claimLock, -1)
	if err != nil {
		return nil, false, err
	}
	defer guard.Release()

	seg := q.seg
	hdr := seg.Header()
	h := hdr.Head()
	t := hdr.Tail()

	if h == t {
		return nil, false, nil
	}

	payload := readSlot(seg, t)
	hdr.SetTail(t + 1)
	return payload, true, nil
}
