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

import "github.com/PCrnjak/shm-comm-go/internal/shm"

// Error kinds. Every error the library returns wraps Err, so
// errors.Is(err, shmcomm.Err) matches any of them; the sentinels below
// select a specific kind. Broadcast drops are counted in stats, never
// raised.
var (
	// Err is the base all library errors wrap.
	Err = shm.Err

	// ErrConnection: segment create failed, attach timed out, or the
	// segment header's magic/version did not match.
	ErrConnection = shm.ErrConnection

	// ErrTimeout: a blocking operation exceeded its deadline.
	ErrTimeout = shm.ErrTimeout

	// ErrBufferFull: a work-queue send found the ring full and could
	// not (or was not allowed to) wait it out.
	ErrBufferFull = shm.ErrBufferFull

	// ErrPayloadTooLarge: the encoded payload exceeds slot_size - 4.
	ErrPayloadTooLarge = shm.ErrPayloadTooLarge

	// ErrSerialization: the codec could not encode or decode a value.
	ErrSerialization = shm.ErrSerialization

	// ErrState: a request-reply endpoint was driven out of protocol
	// order. This is a caller bug, not a recoverable condition.
	ErrState = shm.ErrState
)
