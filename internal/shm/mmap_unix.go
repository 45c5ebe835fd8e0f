//go:build unix

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
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AttachPollInterval is the sleep between attach retries while waiting
// for a producer to create the segment.
const AttachPollInterval = 5 * time.Millisecond

// Create creates a new named shared memory segment and initialises its
// header. A stale segment with the same name (e.g. left by a crashed
// producer) is unlinked first so a fresh segment is always returned.
func Create(name string, numSlots, slotSize uint64) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateGeometry(numSlots, slotSize); err != nil {
		return nil, err
	}

	path := segmentPath(name)
	size := SegmentSize(numSlots, slotSize)

	// Remove any stale segment so creation always starts clean.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: cannot remove stale segment %s: %v", ErrConnection, path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create segment file %s: %v", ErrConnection, path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// Truncate zero-fills the whole region, including the reserved
	// header bytes and the data area.
	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: cannot size segment file to %d bytes: %v", ErrConnection, size, err)
	}

	mem, err := mapFile(file, int(size))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	info, err := file.Stat()
	if err != nil {
		unmapMemory(mem)
		cleanup()
		return nil, fmt.Errorf("%w: cannot stat segment file: %v", ErrConnection, err)
	}

	seg := &Segment{
		File:     file,
		Mem:      mem,
		Path:     path,
		Name:     name,
		hdr:      headerView{basePtr: unsafe.Pointer(&mem[0])},
		info:     info,
		numSlots: numSlots,
		slotSize: slotSize,
	}
	seg.hdr.init(numSlots, slotSize)

	return seg, nil
}

// Attach opens an existing named segment, polling until it appears
// with a valid header or timeout elapses. A segment whose magic or
// version never matches exhausts the deadline and fails with
// ErrConnection.
func Attach(name string, timeout time.Duration) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		seg, err := open(name)
		if err == nil {
			return seg, nil
		}
		// Not-yet-created and half-initialised segments both retry:
		// the header magic is written last, so a mid-create segment
		// fails validation until the producer finishes.
		lastErr = err

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: segment %q did not appear within %v (last error: %v)",
				ErrConnection, name, timeout, lastErr)
		}
		time.Sleep(AttachPollInterval)
	}
}

// open maps and validates an existing segment once.
func open(name string) (*Segment, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: cannot stat segment file: %v", ErrConnection, err)
	}

	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: segment file too small: %d bytes", ErrConnection, size)
	}

	mem, err := mapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	seg := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		Name: name,
		hdr:  headerView{basePtr: unsafe.Pointer(&mem[0])},
		info: info,
	}

	if err := seg.hdr.validate(); err != nil {
		seg.Close()
		return nil, err
	}

	numSlots := seg.hdr.NumSlots()
	slotSize := seg.hdr.SlotSize()
	if err := ValidateGeometry(numSlots, slotSize); err != nil {
		seg.Close()
		return nil, err
	}
	if want := SegmentSize(numSlots, slotSize); uint64(size) < want {
		seg.Close()
		return nil, fmt.Errorf("%w: segment file is %d bytes, header geometry needs %d",
			ErrConnection, size, want)
	}

	seg.numSlots = numSlots
	seg.slotSize = slotSize
	return seg, nil
}

// Unlink removes the named segment, reporting whether it existed.
// Best-effort: mapped consumers keep their mapping until they close.
func Unlink(name string) bool {
	if err := ValidateName(name); err != nil {
		return false
	}
	return os.Remove(segmentPath(name)) == nil
}

// Exists reports whether a segment file with the given name is present.
func Exists(name string) bool {
	_, err := os.Stat(segmentPath(name))
	return err == nil
}

// List enumerates segment names carrying the library prefix in the
// segment directory.
func List() []string {
	entries, err := os.ReadDir(segmentDir())
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(namePrefix) && e.Name()[:len(namePrefix)] == namePrefix {
			names = append(names, e.Name())
		}
	}
	return names
}

// segmentDir returns the directory backing segment files: /dev/shm
// where available (memory-backed tmpfs on Linux), the system temp
// directory otherwise.
func segmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// segmentPath returns the absolute file path for a segment name.
func segmentPath(name string) string {
	return filepath.Join(segmentDir(), name)
}

// LockPath returns the claim-lock file path for a channel. The lock
// file lives in the temp directory rather than /dev/shm so it survives
// segment unlink/recreate cycles.
func LockPath(channel string, write bool) string {
	safe := segmentName("lock", channel)
	if write {
		return filepath.Join(os.TempDir(), safe+".wlock")
	}
	return filepath.Join(os.TempDir(), safe+".lock")
}

// mapFile memory-maps size bytes of file, shared and read-write.
func mapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return mem, nil
}

// unmapMemory unmaps a region returned by mapFile.
func unmapMemory(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
