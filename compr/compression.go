// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package compr wraps the block compression
// algorithms used to store compiled programs.
package compr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses whole buffers.
type Compressor interface {
	// Name is the name of the algorithm.
	Name() string
	// Compress appends the compressed
	// form of src to dst.
	Compress(src, dst []byte) []byte
}

// Decompressor reverses a Compressor.
// Decompress must be safe to call from
// multiple goroutines at once.
type Decompressor interface {
	Name() string
	// Decompress decompresses src into dst,
	// which must have exactly the length of
	// the decompressed data.
	Decompress(src, dst []byte) error
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (z zstdCompressor) Name() string { return "zstd" }

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func zstdDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	})
	return decoder, decoderErr
}

type zstdDecompressor struct{}

func (zstdDecompressor) Name() string { return "zstd" }

func (zstdDecompressor) Decompress(src, dst []byte) error {
	dec, err := zstdDecoder()
	if err != nil {
		return err
	}
	out, err := dec.DecodeAll(src, dst[:0:len(dst)])
	if err != nil {
		return err
	}
	return sized("zstd", out, dst)
}

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Codec) Decompress(src, dst []byte) error {
	out, err := s2.Decode(dst[:0:len(dst)], src)
	if err != nil {
		return err
	}
	return sized("s2", out, dst)
}

// sized checks that a decoder filled dst
// in place
func sized(algo string, out, dst []byte) error {
	if len(out) != len(dst) {
		return fmt.Errorf("%s: expected %d bytes decompressed; got %d", algo, len(dst), len(out))
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		return fmt.Errorf("%s: output buffer realloc'd", algo)
	}
	return nil
}

// Compression returns the compressor with the
// given name ("zstd", "zstd-better", or "s2"),
// or nil.
func Compression(name string) Compressor {
	switch name {
	case "zstd", "zstd-better":
		level := zstd.SpeedDefault
		if name == "zstd-better" {
			level = zstd.SpeedBetterCompression
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil
		}
		return zstdCompressor{enc}
	case "s2":
		return s2Codec{}
	}
	return nil
}

// Decompression returns the decompressor
// for the named algorithm, or nil.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd", "zstd-better":
		return zstdDecompressor{}
	case "s2":
		return s2Codec{}
	}
	return nil
}

// ErrCorrupt is returned by Unpack
// for a malformed frame.
var ErrCorrupt = errors.New("compr: corrupt frame")

// Pack appends to dst a frame holding the
// algorithm name, the size of src, and the
// compressed form of src.
func Pack(dst []byte, c Compressor, src []byte) []byte {
	name := c.Name()
	dst = append(dst, byte(len(name)))
	dst = append(dst, name...)
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	return c.Compress(src, dst)
}

// Unpack decodes a frame written by Pack.
// The limit, if positive, caps the size
// of the decompressed data.
func Unpack(frame []byte, limit int) ([]byte, error) {
	if len(frame) < 1 || len(frame) < 1+int(frame[0]) {
		return nil, ErrCorrupt
	}
	name := string(frame[1 : 1+frame[0]])
	frame = frame[1+len(name):]
	size, n := binary.Uvarint(frame)
	if n <= 0 {
		return nil, ErrCorrupt
	}
	if limit > 0 && size > uint64(limit) {
		return nil, fmt.Errorf("compr: frame of %d bytes exceeds the limit of %d", size, limit)
	}
	d := Decompression(name)
	if d == nil {
		return nil, fmt.Errorf("compr: unknown algorithm %q", name)
	}
	out := make([]byte, size)
	if err := d.Decompress(frame[n:], out); err != nil {
		return nil, fmt.Errorf("compr: %w", err)
	}
	return out, nil
}
