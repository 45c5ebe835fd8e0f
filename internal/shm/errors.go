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
	"errors"
	"fmt"
)

// Err is the base error every library error wraps. Callers can match
// any shmcomm failure with errors.Is(err, shm.Err) and specific kinds
// with the sentinels below.
var Err = errors.New("shmcomm")

var (
	// ErrConnection covers segment create failures, attach timeouts
	// and magic/version mismatches.
	ErrConnection = fmt.Errorf("%w: connection", Err)

	// ErrTimeout is returned when a blocking operation exceeds its
	// deadline.
	ErrTimeout = fmt.Errorf("%w: timeout", Err)

	// ErrBufferFull is returned when a work-queue write cannot
	// proceed because the ring is full.
	ErrBufferFull = fmt.Errorf("%w: buffer full", Err)

	// ErrPayloadTooLarge is returned when a payload exceeds
	// slot_size - 4 bytes.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", Err)

	// ErrSerialization is returned when a codec cannot encode or
	// decode a value.
	ErrSerialization = fmt.Errorf("%w: serialization", Err)

	// ErrState is returned on a request-reply state machine
	// violation. It indicates a caller bug and is not recoverable.
	ErrState = fmt.Errorf("%w: invalid state", Err)
)
