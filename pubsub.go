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

// Publisher writes messages to a named broadcast channel. One
// publisher per channel: it creates (and on Close unlinks) the
// segment. Sends never block; when the ring is full the oldest slot
// is overwritten and slow subscribers skip ahead.
type Publisher struct {
	channel string
	codec   Codec
	seg     *shm.Segment
	ring    *shm.Ring
	log     *slog.Logger
}

// NewPublisher creates the broadcast segment for channel and returns
// a publisher over it. A stale segment left by a crashed publisher is
// replaced.
func NewPublisher(channel string, opts Options) (*Publisher, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	numSlots, slotSize := opts.geometry(DefaultPubNumSlots, DefaultPubSlotSize)
	seg, err := shm.Create(shm.PubSegmentName(channel), numSlots, slotSize)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		channel: channel,
		codec:   codec,
		seg:     seg,
		ring:    shm.NewRing(seg),
		log:     opts.logger(),
	}
	p.log.Debug("publisher ready",
		"channel", channel, "num_slots", numSlots, "slot_size", slotSize)
	return p, nil
}

// Send encodes v with the channel codec and publishes it.
func (p *Publisher) Send(v any) error {
	payload, err := p.codec.Encode(v)
	if err != nil {
		return err
	}
	return p.SendBytes(payload)
}

// SendBytes publishes raw bytes without encoding.
func (p *Publisher) SendBytes(payload []byte) error {
	if p.seg == nil {
		return fmt.Errorf("%w: publisher %q is closed", ErrConnection, p.channel)
	}
	return p.ring.Write(payload)
}

// Stats returns a snapshot of the channel's ring state.
func (p *Publisher) Stats() Stats {
	return broadcastStats(p.seg)
}

// Close unlinks and unmaps the segment. Subscribers still attached
// keep their (now frozen) mapping and must re-attach. Calling Close
// again is a no-op.
func (p *Publisher) Close() error {
	if p.seg == nil {
		return nil
	}
	shm.Unlink(p.seg.Name)
	err := p.seg.Close()
	p.seg = nil
	p.ring = nil
	p.log.Debug("publisher closed", "channel", p.channel)
	return err
}

// Subscriber reads messages from a named broadcast channel through a
// private cursor. Fresh subscribers observe only messages published
// after they attach. Subscribers never coordinate with each other or
// with the publisher; a subscriber that falls the ring depth or more
// behind is lapped and skips ahead to HEAD - num_slots + 1, counting
// the skipped ones in Stats().Lapped.
type Subscriber struct {
	channel string
	codec   Codec
	seg     *shm.Segment
	ring    *shm.Ring
	tail    uint64
	lapped  uint64
	log     *slog.Logger
}

// NewSubscriber attaches to channel's broadcast segment, polling
// until the publisher has created it or ConnectTimeout elapses.
func NewSubscriber(channel string, opts Options) (*Subscriber, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	seg, err := shm.Attach(shm.PubSegmentName(channel), opts.connectTimeout())
	if err != nil {
		return nil, err
	}

	s := &Subscriber{
		channel: channel,
		codec:   codec,
		seg:     seg,
		ring:    shm.NewRing(seg),
		tail:    seg.Header().Head(), // future messages only
		log:     opts.logger(),
	}
	s.log.Debug("subscriber attached", "channel", channel, "tail", s.tail)
	return s, nil
}

// Recv waits for the next message and decodes it with the channel
// codec. timeout < 0 blocks indefinitely, 0 polls once, > 0 waits up
// to the deadline. Returns (nil, nil) when no message arrived in
// time.
func (s *Subscriber) Recv(timeout time.Duration) (any, error) {
	raw, err := s.RecvBytes(timeout)
	if raw == nil || err != nil {
		return nil, err
	}
	var v any
	if err := s.codec.Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecvBytes is Recv without the decode step.
func (s *Subscriber) RecvBytes(timeout time.Duration) ([]byte, error) {
	if s.seg == nil {
		return nil, fmt.Errorf("%w: subscriber %q is closed", ErrConnection, s.channel)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	nextStaleCheck := time.Now().Add(staleCheckInterval)

	for {
		res := s.ring.Read(s.tail)
		s.tail = res.Tail
		s.lapped += res.Dropped
		if res.OK {
			return res.Payload, nil
		}

		now := time.Now()
		if timeout == 0 || (!deadline.IsZero() && now.After(deadline)) || now.After(nextStaleCheck) {
			// Quiet timeouts are normal; a vanished segment is not.
			if s.seg.Stale() {
				return nil, fmt.Errorf("%w: segment for channel %q was unlinked; re-attach required",
					ErrConnection, s.channel)
			}
			if timeout == 0 || (!deadline.IsZero() && now.After(deadline)) {
				return nil, nil
			}
			nextStaleCheck = now.Add(staleCheckInterval)
		}
		time.Sleep(shm.PollInterval)
	}
}

// staleCheckInterval bounds how often an idle blocking receive
// re-stats the backing file to notice a producer that unlinked it.
const staleCheckInterval = 100 * time.Millisecond

// Stats returns a snapshot including this subscriber's private cursor
// and lap count.
func (s *Subscriber) Stats() Stats {
	st := broadcastStats(s.seg)
	st.LocalTail = s.tail
	st.Lapped = s.lapped
	return st
}

// Close detaches from the segment without unlinking it. Calling Close
// again is a no-op.
func (s *Subscriber) Close() error {
	if s.seg == nil {
		return nil
	}
	err := s.seg.Close()
	s.seg = nil
	s.ring = nil
	s.log.Debug("subscriber closed", "channel", s.channel)
	return err
}

// broadcastStats snapshots a broadcast segment. The shared Tail is
// unused in broadcast mode; Used reports how many slots currently
// hold live messages.
func broadcastStats(seg *shm.Segment) Stats {
	if seg == nil {
		return Stats{}
	}
	hdr := seg.Header()
	head := hdr.Head()
	used := head
	if used > seg.NumSlots() {
		used = seg.NumSlots()
	}
	return Stats{
		Head:      head,
		Tail:      hdr.Tail(),
		NumSlots:  seg.NumSlots(),
		SlotSize:  seg.SlotSize(),
		MsgCount:  hdr.MsgCount(),
		DropCount: hdr.DropCount(),
		UsedSlots: used,
		FreeSlots: seg.NumSlots() - used,
	}
}
