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

	"github.com/sugawarayuuta/sonnet"
)

// jsonCodec is the default codec: JSON over arbitrary values. It is
// self-describing and readable from any language, which is what makes
// it the general-purpose default despite the size overhead.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: json encode: %v", ErrSerialization, err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte, v any) error {
	if err := sonnet.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: json decode: %v", ErrSerialization, err)
	}
	return nil
}

func init() {
	RegisterCodec("json", jsonCodec{})
}
