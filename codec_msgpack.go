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

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackCodec is the compact binary codec for maps and lists of
// primitives. Smaller and faster than JSON for numeric-heavy data.
type msgpackCodec struct{}

func (msgpackCodec) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: msgpack encode: %v", ErrSerialization, err)
	}
	return data, nil
}

func (msgpackCodec) Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: msgpack decode: %v", ErrSerialization, err)
	}
	return nil
}

func init() {
	RegisterCodec("msgpack", msgpackCodec{})
}
