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

// shmctl inspects and cleans up shmcomm shared-memory segments.
// Crashed producers leave orphan segments behind on platforms without
// kernel-side cleanup; this is the administrative escape hatch.
//
// Usage:
//
//	shmctl list
//	shmctl stat <os-name>
//	shmctl unlink <os-name>
//
// <os-name> is the full OS-level segment name, e.g.
// "shmcomm_pub_sensors" as printed by list.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/PCrnjak/shm-comm-go/internal/shm"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("shmctl: ")

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "list":
		names := shm.List()
		if len(names) == 0 {
			fmt.Println("no shmcomm segments found")
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}

	case "stat":
		if len(os.Args) != 3 {
			usage()
		}
		stat(os.Args[2])

	case "unlink":
		if len(os.Args) != 3 {
			usage()
		}
		name := os.Args[2]
		if shm.Unlink(name) {
			fmt.Printf("unlinked %s\n", name)
		} else {
			fmt.Printf("no segment named %s\n", name)
		}

	default:
		usage()
	}
}

func stat(name string) {
	seg, err := shm.Attach(name, 100*time.Millisecond)
	if err != nil {
		log.Fatalf("cannot attach to %s: %v", name, err)
	}
	defer seg.Close()

	hdr := seg.Header()
	head, tail := hdr.Head(), hdr.Tail()

	fmt.Printf("segment:    %s\n", seg.Path)
	fmt.Printf("size:       %d bytes\n", len(seg.Mem))
	fmt.Printf("num_slots:  %d\n", seg.NumSlots())
	fmt.Printf("slot_size:  %d\n", seg.SlotSize())
	fmt.Printf("head:       %d\n", head)
	fmt.Printf("tail:       %d\n", tail)
	fmt.Printf("msg_count:  %d\n", hdr.MsgCount())
	fmt.Printf("drop_count: %d\n", hdr.DropCount())
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: shmctl list | stat <os-name> | unlink <os-name>")
	os.Exit(2)
}
