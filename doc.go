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

// Package shmcomm provides same-machine inter-process communication
// through named shared-memory segments, with microsecond-scale
// latency and no network stack in the path.
//
// Three messaging patterns are available:
//
//   - Broadcast (Publisher / Subscriber): one writer, any number of
//     independent readers, overwrite-on-full. Slow readers lose old
//     messages by design and detect it through their lap counter.
//   - Request-reply (Requester / Replier): synchronous exchanges over
//     a pair of unidirectional rings bound to one service name.
//   - Work-queue (Pusher / Puller): competitive pull; each message is
//     claimed by exactly one puller under a cross-process lock.
//
// All endpoints on one channel must agree on the codec; values are
// encoded with the registered codec named in Options (JSON by
// default) before they enter a ring slot.
//
// A minimal pub/sub round trip:
//
//	pub, err := shmcomm.NewPublisher("robot/pose", shmcomm.Options{})
//	if err != nil { ... }
//	defer pub.Close()
//
//	sub, err := shmcomm.NewSubscriber("robot/pose", shmcomm.Options{})
//	if err != nil { ... }
//	defer sub.Close()
//
//	pub.Send(map[string]float64{"x": 1.0, "y": 2.0})
//	msg, err := sub.Recv(100 * time.Millisecond)
//
// Library objects are safe to share between processes but not between
// goroutines; serialise in-process concurrent use externally.
package shmcomm
