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
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// createTestQueue builds a work-queue over a fresh segment with lock
// files cleaned up afterwards.
func createTestQueue(t *testing.T, base string, numSlots, slotSize uint64) *Queue {
	t.Helper()

	channel := uniqueName(t, base)
	seg := createTestSegment(t, base, numSlots, slotSize)
	t.Cleanup(func() {
		os.Remove(LockPath(channel, true))
		os.Remove(LockPath(channel, false))
	})
	return NewQueue(seg, channel)
}

func TestQueuePushPull(t *testing.T) {
	q := createTestQueue(t, "queue", 8, 64)

	for i := 0; i < 5; i++ {
		if err := q.Push([]byte{byte('0' + i)}, false, 0); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		payload, ok, err := q.Pull()
		if err != nil {
			t.Fatalf("pull %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("pull %d: queue unexpectedly empty", i)
		}
		if want := []byte{byte('0' + i)}; !bytes.Equal(payload, want) {
			t.Fatalf("pull %d = %q, want %q", i, payload, want)
		}
	}

	if _, ok, _ := q.Pull(); ok {
		t.Fatal("pull from drained queue returned a message")
	}
}

func TestQueueInvariantHeadTail(t *testing.T) {
	q := createTestQueue(t, "inv", 4, 64)
	hdr := q.Segment().Header()

	check := func(context string) {
		h, tl := hdr.Head(), hdr.Tail()
		if h < tl {
			t.Fatalf("%s: head %d < tail %d", context, h, tl)
		}
		if h-tl > q.Segment().NumSlots() {
			t.Fatalf("%s: head-tail = %d exceeds num_slots", context, h-tl)
		}
	}

	check("fresh")
	for i := 0; i < 4; i++ {
		if err := q.Push([]byte("m"), false, 0); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
		check(fmt.Sprintf("after push %d", i))
	}
	for i := 0; i < 4; i++ {
		if _, ok, err := q.Pull(); !ok || err != nil {
			t.Fatalf("pull %d: ok=%v err=%v", i, ok, err)
		}
		check(fmt.Sprintf("after pull %d", i))
	}
}

func TestQueueFullNonBlocking(t *testing.T) {
	q := createTestQueue(t, "full", 2, 64)

	for i := 0; i < 2; i++ {
		if err := q.Push([]byte("m"), false, 0); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}

	err := q.Push([]byte("overflow"), false, 0)
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	if got := q.Segment().Header().DropCount(); got != 1 {
		t.Fatalf("drop_count = %d, want 1", got)
	}
	if got := q.Segment().Header().MsgCount(); got != 2 {
		t.Fatalf("msg_count = %d, want 2", got)
	}
}

func TestQueueFullBlockingTimesOut(t *testing.T) {
	q := createTestQueue(t, "fulltimeout", 1, 64)

	if err := q.Push([]byte("m"), false, 0); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	start := time.Now()
	err := q.Push([]byte("overflow"), true, 30*time.Millisecond)
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull after timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("blocking push gave up after %v, before the deadline", elapsed)
	}
}

func TestQueueBlockedPushUnblocksOnPull(t *testing.T) {
	q := createTestQueue(t, "unblock", 1, 64)

	if err := q.Push([]byte("first"), false, 0); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Push([]byte("second"), true, 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if payload, ok, err := q.Pull(); !ok || err != nil || string(payload) != "first" {
		t.Fatalf("pull = %q ok=%v err=%v", payload, ok, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked push failed after space freed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked push never completed")
	}

	if payload, ok, _ := q.Pull(); !ok || string(payload) != "second" {
		t.Fatalf("second pull = %q ok=%v", payload, ok)
	}
}

func TestQueuePayloadTooLarge(t *testing.T) {
	q := createTestQueue(t, "qtoolarge", 4, 16)

	if err := q.Push(bytes.Repeat([]byte("x"), 13), false, 0); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	seg := createTestSegment(t, "mprod", 256, 64)
	channel := uniqueName(t, "mprod_ch")
	t.Cleanup(func() {
		os.Remove(LockPath(channel, true))
		os.Remove(LockPath(channel, false))
	})

	// Two producers race through separate mappings; the producer-side
	// claim lock serialises HEAD advancement so no write is lost.
	const perProducer = 50
	done := make(chan struct{}, 2)
	for w := 0; w < 2; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			m, err := Attach(seg.Name, time.Second)
			if err != nil {
				t.Errorf("producer attach failed: %v", err)
				return
			}
			defer m.Close()
			q := NewQueue(m, channel)
			for i := 0; i < perProducer; i++ {
				payload := []byte(fmt.Sprintf("p%d-%02d", w, i))
				if err := q.Push(payload, true, time.Second); err != nil {
					t.Errorf("producer %d push %d failed: %v", w, i, err)
					return
				}
			}
		}(w)
	}
	for w := 0; w < 2; w++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("producers did not finish")
		}
	}

	drainQ := NewQueue(seg, channel)
	seen := make(map[string]bool)
	for {
		payload, ok, err := drainQ.Pull()
		if err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		if !ok {
			break
		}
		if seen[string(payload)] {
			t.Fatalf("payload %q appears twice", payload)
		}
		seen[string(payload)] = true
	}
	if len(seen) != 2*perProducer {
		t.Fatalf("drained %d distinct payloads, want %d", len(seen), 2*perProducer)
	}
}

func TestQueueExactlyOnceAcrossPullers(t *testing.T) {
	seg := createTestSegment(t, "fanout", 128, 64)
	channel := uniqueName(t, "fanout_ch")
	t.Cleanup(func() {
		os.Remove(LockPath(channel, true))
		os.Remove(LockPath(channel, false))
	})

	pushQ := NewQueue(seg, channel)
	const total = 100
	for i := 0; i < total; i++ {
		if err := pushQ.Push([]byte(fmt.Sprintf("%03d", i)), true, time.Second); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}

	// Two competing pullers, each with its own mapping and its own
	// lock file descriptor, drain the queue concurrently.
	results := make(chan string, total)
	workers := 2
	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			m, err := Attach(seg.Name, time.Second)
			if err != nil {
				t.Errorf("worker attach failed: %v", err)
				return
			}
			defer m.Close()
			q := NewQueue(m, channel)
			for {
				payload, ok, err := q.Pull()
				if err != nil {
					t.Errorf("pull failed: %v", err)
					return
				}
				if !ok {
					return
				}
				results <- string(payload)
			}
		}()
	}

	for w := 0; w < workers; w++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("pullers did not finish")
		}
	}
	close(results)

	seen := make(map[string]bool, total)
	for payload := range results {
		if seen[payload] {
			t.Fatalf("payload %q delivered twice", payload)
		}
		seen[payload] = true
	}
	if len(seen) != total {
		t.Fatalf("received %d distinct payloads, want %d", len(seen), total)
	}
}
