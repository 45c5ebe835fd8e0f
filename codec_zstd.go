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

	"github.com/klauspost/compress/zstd"
)

// zstdCodec wraps another codec with zstd compression. Useful when a
// payload class compresses well enough to fit a smaller slot_size than
// its raw encoding would need.
type zstdCodec struct {
	inner Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// ZstdCodec returns a codec that compresses inner's output. Both
// sides of the channel must use the same wrapped codec.
func ZstdCodec(inner Codec) Codec {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dec, _ := zstd.NewReader(nil)
	return &zstdCodec{inner: inner, enc: enc, dec: dec}
}

func (c *zstdCodec) Encode(v any) ([]byte, error) {
	data, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decode(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("%w: zstd decode: %v", ErrSerialization, err)
	}
	return c.inner.Decode(raw, v)
}

func init() {
	RegisterCodec("json+zstd", ZstdCodec(jsonCodec{}))
}
