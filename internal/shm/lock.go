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
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// FileLock is an exclusive cross-process advisory lock on a named
// path. It is process-safe but not thread-safe within one process;
// concurrent goroutines must use separate FileLock values (each holds
// its own file description) or serialise externally.
//
// The OS releases the lock when the holding process dies, so a
// crashed puller can never wedge a queue.
type FileLock struct {
	fl *flock.Flock
}

// AcquireLock acquires the exclusive lock at path.
//
//	timeout < 0  block until acquired
//	timeout == 0 try once; ErrTimeout when already held elsewhere
//	timeout > 0  sleep-poll until acquired or ErrTimeout at deadline
func AcquireLock(path string, timeout time.Duration) (*FileLock, error) {
	fl := flock.New(path)

	switch {
	case timeout < 0:
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrConnection, path, err)
		}
	case timeout == 0:
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrConnection, path, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: lock %s is held elsewhere", ErrTimeout, path)
		}
	default:
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ok, err := fl.TryLockContext(ctx, PollInterval)
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrConnection, path, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: could not acquire lock %s within %v", ErrTimeout, path, timeout)
		}
	}

	return &FileLock{fl: fl}, nil
}

// Release drops the lock. Safe to call more than once; callers pair
// AcquireLock with a deferred Release so the lock is dropped on every
// exit path, panics included.
func (l *FileLock) Release() error {
	if l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	return fl.Unlock()
}
