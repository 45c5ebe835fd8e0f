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
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/PCrnjak/shm-comm-go/internal/shm"
)

// Request-reply endpoint states.
type reqRepState int

const (
	stateIdle reqRepState = iota
	stateAwaitingReply
)

// Request and reply slots carry an 8-byte little-endian correlation
// id before the codec payload. The requester assigns ids
// monotonically and drops replies whose echoed id is not the one
// outstanding, so a late reply from an earlier exchange (or from a
// competing client's exchange) can never be delivered as the answer
// to the current request.
const corrIDSize = 8

func frameMessage(id uint64, payload []byte) []byte {
	framed := make([]byte, corrIDSize+len(payload))
	binary.LittleEndian.PutUint64(framed, id)
	copy(framed[corrIDSize:], payload)
	return framed
}

func parseFrame(data []byte) (uint64, []byte, error) {
	if len(data) < corrIDSize {
		return 0, nil, fmt.Errorf("%w: request-reply frame truncated at %d bytes",
			ErrSerialization, len(data))
	}
	return binary.LittleEndian.Uint64(data), data[corrIDSize:], nil
}

// Replier is the server side of a request-reply channel. It creates
// both segments (requests in, replies out), so it must start before
// the requester. The protocol is strictly alternating: Recv, then
// Send, then Recv again; calls out of order return ErrState.
type Replier struct {
	channel string
	codec   Codec
	reqSeg  *shm.Segment
	repSeg  *shm.Segment
	reqRing *shm.Ring
	repRing *shm.Ring
	reqTail uint64
	state   reqRepState

	// Correlation id of the request being serviced.
	pendingID uint64

	log *slog.Logger
}

// NewReplier creates both segments for channel and returns the
// server endpoint.
func NewReplier(channel string, opts Options) (*Replier, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	numSlots, slotSize := opts.geometry(DefaultReqRepNumSlots, DefaultReqRepSlotSize)

	reqSeg, err := shm.Create(shm.ReqSegmentName(channel), numSlots, slotSize)
	if err != nil {
		return nil, err
	}
	repSeg, err := shm.Create(shm.RepSegmentName(channel), numSlots, slotSize)
	if err != nil {
		shm.Unlink(reqSeg.Name)
		reqSeg.Close()
		return nil, err
	}

	r := &Replier{
		channel: channel,
		codec:   codec,
		reqSeg:  reqSeg,
		repSeg:  repSeg,
		reqRing: shm.NewRing(reqSeg),
		repRing: shm.NewRing(repSeg),
		state:   stateIdle,
		log:     opts.logger(),
	}
	r.log.Debug("replier ready",
		"channel", channel, "num_slots", numSlots, "slot_size", slotSize)
	return r, nil
}

// Recv waits for the next request. Valid only in the idle state; a
// successful receive moves the replier to awaiting-reply and the next
// call must be Send. timeout < 0 blocks indefinitely, 0 polls once,
// > 0 waits up to the deadline; (nil, nil) means no request arrived.
func (r *Replier) Recv(timeout time.Duration) (any, error) {
	raw, err := r.RecvBytes(timeout)
	if raw == nil || err != nil {
		return nil, err
	}
	var v any
	if err := r.codec.Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecvBytes is Recv without the decode step.
func (r *Replier) RecvBytes(timeout time.Duration) ([]byte, error) {
	if r.reqSeg == nil {
		return nil, fmt.Errorf("%w: replier %q is closed", ErrConnection, r.channel)
	}
	if r.state != stateIdle {
		return nil, fmt.Errorf("%w: Recv while a reply is owed; call Send first", ErrState)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		res := r.reqRing.Read(r.reqTail)
		r.reqTail = res.Tail
		if res.OK {
			id, payload, err := parseFrame(res.Payload)
			if err != nil {
				return nil, err
			}
			r.pendingID = id
			r.state = stateAwaitingReply
			return payload, nil
		}

		if timeout == 0 || (!deadline.IsZero() && time.Now().After(deadline)) {
			return nil, nil
		}
		time.Sleep(shm.PollInterval)
	}
}

// Send encodes v and sends it as the reply to the request last
// returned by Recv, echoing that request's correlation id. Valid only
// in the awaiting-reply state.
func (r *Replier) Send(v any) error {
	payload, err := r.codec.Encode(v)
	if err != nil {
		return err
	}
	return r.SendBytes(payload)
}

// SendBytes is Send without the encode step.
func (r *Replier) SendBytes(payload []byte) error {
	if r.repSeg == nil {
		return fmt.Errorf("%w: replier %q is closed", ErrConnection, r.channel)
	}
	if r.state != stateAwaitingReply {
		return fmt.Errorf("%w: Send with no request pending; call Recv first", ErrState)
	}

	if err := r.repRing.Write(frameMessage(r.pendingID, payload)); err != nil {
		return err
	}
	r.state = stateIdle
	return nil
}

// Close unlinks and unmaps both segments. Calling Close again is a
// no-op.
func (r *Replier) Close() error {
	var firstErr error
	for _, seg := range []**shm.Segment{&r.reqSeg, &r.repSeg} {
		if *seg == nil {
			continue
		}
		shm.Unlink((*seg).Name)
		if err := (*seg).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*seg = nil
	}
	r.reqRing = nil
	r.repRing = nil
	r.log.Debug("replier closed", "channel", r.channel)
	return firstErr
}

// Requester is the client side of a request-reply channel. It
// attaches to the segments the replier created. The protocol is
// strictly alternating: Send, then Recv (or the combined Request);
// calls out of order return ErrState.
type Requester struct {
	channel string
	codec   Codec
	reqSeg  *shm.Segment
	repSeg  *shm.Segment
	reqRing *shm.Ring
	repRing *shm.Ring
	repTail uint64
	state   reqRepState

	// Monotonic correlation id source and the id awaiting its reply.
	nextID    uint64
	pendingID uint64

	log *slog.Logger
}

// NewRequester attaches to channel's request and reply segments,
// polling until the replier has created them or ConnectTimeout
// elapses.
func NewRequester(channel string, opts Options) (*Requester, error) {
	codec, err := LookupCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	timeout := opts.connectTimeout()
	reqSeg, err := shm.Attach(shm.ReqSegmentName(channel), timeout)
	if err != nil {
		return nil, err
	}
	repSeg, err := shm.Attach(shm.RepSegmentName(channel), timeout)
	if err != nil {
		reqSeg.Close()
		return nil, err
	}

	q := &Requester{
		channel: channel,
		codec:   codec,
		reqSeg:  reqSeg,
		repSeg:  repSeg,
		reqRing: shm.NewRing(reqSeg),
		repRing: shm.NewRing(repSeg),
		repTail: repSeg.Header().Head(), // skip replies to earlier clients
		state:   stateIdle,
		log:     opts.logger(),
	}
	q.log.Debug("requester attached", "channel", channel)
	return q, nil
}

// Send encodes v and sends it as a new request. Valid only in the
// idle state; afterwards the requester awaits the reply and the next
// call must be Recv.
func (q *Requester) Send(v any) error {
	payload, err := q.codec.Encode(v)
	if err != nil {
		return err
	}
	return q.SendBytes(payload)
}

// SendBytes is Send without the encode step.
func (q *Requester) SendBytes(payload []byte) error {
	if q.reqSeg == nil {
		return fmt.Errorf("%w: requester %q is closed", ErrConnection, q.channel)
	}
	if q.state != stateIdle {
		return fmt.Errorf("%w: Send while awaiting a reply; call Recv first", ErrState)
	}

	q.nextID++
	if err := q.reqRing.Write(frameMessage(q.nextID, payload)); err != nil {
		return err
	}
	q.pendingID = q.nextID
	q.state = stateAwaitingReply
	return nil
}

// Recv waits for the reply to the outstanding request and decodes it.
// Valid only while awaiting a reply. Replies carrying a correlation
// id other than the outstanding one are discarded. On timeout the
// requester returns to idle and ErrTimeout is returned; timeout <= 0
// blocks indefinitely.
func (q *Requester) Recv(timeout time.Duration) (any, error) {
	raw, err := q.RecvBytes(timeout)
	if err != nil {
		return nil, err
	}
	var v any
	if err := q.codec.Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecvBytes is Recv without the decode step.
func (q *Requester) RecvBytes(timeout time.Duration) ([]byte, error) {
	if q.repSeg == nil {
		return nil, fmt.Errorf("%w: requester %q is closed", ErrConnection, q.channel)
	}
	if q.state != stateAwaitingReply {
		return nil, fmt.Errorf("%w: Recv with no request outstanding; call Send first", ErrState)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		res := q.repRing.Read(q.repTail)
		q.repTail = res.Tail
		if res.OK {
			id, payload, err := parseFrame(res.Payload)
			if err != nil {
				q.state = stateIdle
				return nil, err
			}
			if id != q.pendingID {
				continue // stale or foreign reply
			}
			q.state = stateIdle
			return payload, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			q.state = stateIdle
			return nil, fmt.Errorf("%w: no reply on %q within %v", ErrTimeout, q.channel, timeout)
		}
		time.Sleep(shm.PollInterval)
	}
}

// Request sends v and waits for its reply: Send followed by Recv with
// the whole exchange's deadline.
func (q *Requester) Request(v any, timeout time.Duration) (any, error) {
	if err := q.Send(v); err != nil {
		return nil, err
	}
	return q.Recv(timeout)
}

// Close detaches from both segments without unlinking them. Calling
// Close again is a no-op.
func (q *Requester) Close() error {
	var firstErr error
	for _, seg := range []**shm.Segment{&q.reqSeg, &q.repSeg} {
		if *seg == nil {
			continue
		}
		if err := (*seg).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*seg = nil
	}
	q.reqRing = nil
	q.repRing = nil
	q.log.Debug("requester closed", "channel", q.channel)
	return firstErr
}
