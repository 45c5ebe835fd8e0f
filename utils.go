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

// ForceUnlink removes a segment by its full OS-level name (e.g.
// "shmcomm_pub_sensors"), reporting whether it existed. Escape hatch
// for cleaning up after crashed producers.
func ForceUnlink(name string) bool {
	return shm.Unlink(name)
}

// ListSegments enumerates library-owned segments visible on this
// system, by OS-level name. Returns nil on platforms without segment
// enumeration.
func ListSegments() []string {
	return shm.List()
}
