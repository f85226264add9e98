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

package compr

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecs(t *testing.T) {
	src := bytes.Repeat([]byte("return 'Udf1 ' || x;"), 200)
	for _, name := range []string{"zstd", "zstd-better", "s2"} {
		t.Run(name, func(t *testing.T) {
			c := Compression(name)
			if c == nil {
				t.Fatalf("no compressor for %q", name)
			}
			prefix := []byte("hdr")
			cmp := c.Compress(src, append([]byte(nil), prefix...))
			if !bytes.HasPrefix(cmp, prefix) {
				t.Fatal("Compress did not append to dst")
			}
			if len(cmp)-len(prefix) >= len(src) {
				t.Errorf("%d bytes compressed to %d", len(src), len(cmp)-len(prefix))
			}
			dst := make([]byte, len(src))
			if err := Decompression(name).Decompress(cmp[len(prefix):], dst); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(dst, src) {
				t.Fatal("round trip mismatch")
			}
			// a short destination is an error
			if err := Decompression(name).Decompress(cmp[len(prefix):], dst[:10]); err == nil {
				t.Error("expected an error decompressing into a short buffer")
			}
		})
	}
	if Compression("lz4") != nil || Decompression("lz4") != nil {
		t.Error("unknown algorithm should yield nil")
	}
}

func TestPack(t *testing.T) {
	src := bytes.Repeat([]byte{1, 2, 3, 4}, 512)
	frame := Pack(nil, Compression("zstd"), src)
	out, err := Unpack(frame, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("round trip mismatch")
	}
	if _, err := Unpack(frame, 100); err == nil {
		t.Error("expected the size limit to be enforced")
	}
	if _, err := Unpack(frame[:3], 0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("truncated frame: got %v", err)
	}
	bad := Pack(nil, Compression("s2"), src)
	bad[1] = 'x' // "x2"
	if _, err := Unpack(bad, 0); err == nil {
		t.Error("expected an unknown algorithm error")
	}
	empty, err := Unpack(Pack(nil, Compression("s2"), nil), 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty frame: %v %v", empty, err)
	}
}
