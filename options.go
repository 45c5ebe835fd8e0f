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
	"log/slog"
	"time"
)

// Default ring geometries per pattern.
const (
	DefaultPubNumSlots = 64
	DefaultPubSlotSize = 4096

	DefaultReqRepNumSlots = 16
	DefaultReqRepSlotSize = 8192

	DefaultPushNumSlots = 128
	DefaultPushSlotSize = 4096

	// DefaultConnectTimeout bounds how long consumers poll for the
	// producer's segment to appear.
	DefaultConnectTimeout = 5 * time.Second
)

// Options configures an endpoint. The zero value selects the
// pattern's defaults. NumSlots and SlotSize apply to producers
// (segment creators) only; ConnectTimeout applies to consumers only.
type Options struct {
	// NumSlots is the ring depth. Must be at least 1.
	NumSlots int

	// SlotSize is the bytes per slot including the 4-byte length
	// prefix. Must be at least 8.
	SlotSize int

	// Codec names a registered codec pair; both sides of a channel
	// must agree. Empty selects "json".
	Codec string

	// ConnectTimeout is how long a consumer waits for the segment to
	// appear before failing with ErrConnection. Zero selects
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Logger receives lifecycle events at debug level. Nil selects
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) geometry(defSlots, defSize int) (uint64, uint64) {
	slots, size := o.NumSlots, o.SlotSize
	if slots == 0 {
		slots = defSlots
	}
	if size == 0 {
		size = defSize
	}
	return uint64(slots), uint64(size)
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout == 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Stats is a point-in-time snapshot of a channel's ring state. Which
// fields are meaningful depends on the pattern: broadcast channels do
// not use the shared Tail, and LocalTail/Lapped are populated only by
// Subscriber.Stats.
type Stats struct {
	Head      uint64
	Tail      uint64
	NumSlots  uint64
	SlotSize  uint64
	MsgCount  uint64
	DropCount uint64
	UsedSlots uint64
	FreeSlots uint64

	// Subscriber-side state.
	LocalTail uint64
	Lapped    uint64
}
