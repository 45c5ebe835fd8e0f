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

package shmcomm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/PCrnjak/shm-comm-go/internal/shm"
)

// Pusher writes work items into a named work-queue channel. Unlike
// broadcast, queue sends are lossless: when the ring is full, Send
// blocks until a puller frees a slot. Concurrent pushers on one
// channel are serialised by a producer-side claim lock.
type Pusher struct {
	channel string
	codec   Codec
	seg     *shm.Segment
	queue   *shm.Queue
	log     *slog.Logger
}

// NewPusher creates the work-queue segment for channel and returns a
// pusher over it. A stale segment left by a crashed pusher is
// replaced.
func NewPusher(channel string, opts Options) (*Pusher, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	numSlots, slotSize := opts.geometry(DefaultPushNumSlots, DefaultPushSlotSize)
	seg, err := shm.Create(shm.PushSegmentName(channel), numSlots, slotSize)
	if err != nil {
		return nil, err
	}

	p := &Pusher{
		channel: channel,
		codec:   codec,
		seg:     seg,
		queue:   shm.NewQueue(seg, channel),
		log:     opts.logger(),
	}
	p.log.Debug("pusher ready",
		"channel", channel, "num_slots", numSlots, "slot_size", slotSize)
	return p, nil
}

// Send encodes v and appends it to the queue, blocking while the ring
// is full.
func (p *Pusher) Send(v any) error {
	return p.send(v, true, 0)
}

// SendTimeout is Send bounded by timeout; ErrBufferFull if the ring
// stays full for the whole wait.
func (p *Pusher) SendTimeout(v any, timeout time.Duration) error {
	return p.send(v, true, timeout)
}

// TrySend is the non-blocking Send: ErrBufferFull immediately when
// the ring is full.
func (p *Pusher) TrySend(v any) error {
	return p.send(v, false, 0)
}

func (p *Pusher) send(v any, block bool, timeout time.Duration) error {
	payload, err := p.codec.Encode(v)
	if err != nil {
		return err
	}
	return p.sendBytes(payload, block, timeout)
}

// SendBytes appends raw bytes, blocking while the ring is full.
func (p *Pusher) SendBytes(payload []byte) error {
	return p.sendBytes(payload, true, 0)
}

// SendBytesTimeout is SendBytes bounded by timeout.
func (p *Pusher) SendBytesTimeout(payload []byte, timeout time.Duration) error {
	return p.sendBytes(payload, true, timeout)
}

// TrySendBytes is the non-blocking SendBytes.
func (p *Pusher) TrySendBytes(payload []byte) error {
	return p.sendBytes(payload, false, 0)
}

func (p *Pusher) sendBytes(payload []byte, block bool, timeout time.Duration) error {
	if p.seg == nil {
		return fmt.Errorf("%w: pusher %q is closed", ErrConnection, p.channel)
	}
	return p.queue.Push(payload, block, timeout)
}

// Stats returns a snapshot of the queue's ring state.
func (p *Pusher) Stats() Stats {
	return queueStats(p.seg)
}

// Close unlinks and unmaps the segment. Pullers still attached keep
// their mapping and can drain what they have mapped, but must
// re-attach for anything new. Calling Close again is a no-op.
func (p *Pusher) Close() error {
	if p.seg == nil {
		return nil
	}
	shm.Unlink(p.seg.Name)
	err := p.seg.Close()
	p.seg = nil
	p.queue = nil
	p.log.Debug("pusher closed", "channel", p.channel)
	return err
}

// Puller claims work items from a named work-queue channel. Multiple
// pullers compete; each message is delivered to exactly one of them,
// decided by a cross-process claim lock around the shared read
// cursor.
type Puller struct {
	channel string
	codec   Codec
	seg     *shm.Segment
	queue   *shm.Queue
	log     *slog.Logger
}

// NewPuller attaches to channel's work-queue segment, polling until
// the pusher has created it or ConnectTimeout elapses.
func NewPuller(channel string, opts Options) (*Puller, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	seg, err := shm.Attach(shm.PushSegmentName(channel), opts.connectTimeout())
	if err != nil {
		return nil, err
	}

	p := &Puller{
		channel: channel,
		codec:   codec,
		seg:     seg,
		queue:   shm.NewQueue(seg, channel),
		log:     opts.logger(),
	}
	p.log.Debug("puller attached", "channel", channel)
	return p, nil
}

// Recv claims the next work item and decodes it with the channel
// codec. timeout < 0 blocks indefinitely, 0 polls once, > 0 waits up
// to the deadline. Returns (nil, nil) when the queue stayed empty.
func (p *Puller) Recv(timeout time.Duration) (any, error) {
	raw, err := p.RecvBytes(timeout)
	if raw == nil || err != nil {
		return nil, err
	}
	var v any
	if err := p.codec.Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecvBytes is Recv without the decode step. The claim lock is taken
// per attempt, never held across the poll sleep.
func (p *Puller) RecvBytes(timeout time.Duration) ([]byte, error) {
	if p.seg == nil {
		return nil, fmt.Errorf("%w: puller %q is closed", ErrConnection, p.channel)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	nextStaleCheck := time.Now().Add(staleCheckInterval)

	for {
		payload, ok, err := p.queue.Pull()
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}

		now := time.Now()
		if timeout == 0 || (!deadline.IsZero() && now.After(deadline)) || now.After(nextStaleCheck) {
			if p.seg.Stale() {
				return nil, fmt.Errorf("%w: segment for channel %q was unlinked; re-attach required",
					ErrConnection, p.channel)
			}
			if timeout == 0 || (!deadline.IsZero() && now.After(deadline)) {
				return nil, nil
			}
			nextStaleCheck = now.Add(staleCheckInterval)
		}
		time.Sleep(shm.PollInterval)
	}
}

// Stats returns a snapshot of the queue's ring state.
func (p *Puller) Stats() Stats {
	return queueStats(p.seg)
}

// Close detaches from the segment without unlinking it. Calling Close
// again is a no-op.
func (p *Puller) Close() error {
	if p.seg == nil {
		return nil
	}
	err := p.seg.Close()
	p.seg = nil
	p.queue = nil
	p.log.Debug("puller closed", "channel", p.channel)
	return err
}

// queueStats snapshots a work-queue segment.
func queueStats(seg *shm.Segment) Stats {
	if seg == nil {
		return Stats{}
	}
	hdr := seg.Header()
	head, tail := hdr.Head(), hdr.Tail()
	used := head - tail
	return Stats{
		Head:      head,
		Tail:      tail,
		NumSlots:  seg.NumSlots(),
		SlotSize:  seg.SlotSize(),
		MsgCount:  hdr.MsgCount(),
		DropCount: hdr.DropCount(),
		UsedSlots: used,
		FreeSlots: seg.NumSlots() - used,
	}
}
