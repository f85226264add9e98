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

// Package udfc compiles user-defined scalar
// functions into vectorized artifacts and
// registers them with a host database.
//
// A Registry owns the compiled functions.
// Register parses a Definition, lowers it to
// SSA form, converts its control flow to
// predicated vector code, and asks the Host to
// route calls of the function to the resulting
// artifact. Re-registering a function with the
// same signature replaces its body atomically.
package udfc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/SnellerInc/udfc/expr"
)

// Definition is the source of a function.
type Definition struct {
	Name    string
	Params  []expr.Param
	Returns expr.Type
	Body    string
}

// Signature returns the text of the signature
// of d, i.e. "f(a int, b string) string".
func (d *Definition) Signature() string {
	var sb strings.Builder
	sb.WriteString(d.Name)
	sb.WriteByte('(')
	for i := range d.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", d.Params[i].Name, d.Params[i].Type)
	}
	fmt.Fprintf(&sb, ") %s", d.Returns)
	return sb.String()
}

// sameSignature returns whether calls
// to a can be routed to b
func sameSignature(a, b *Definition) bool {
	if len(a.Params) != len(b.Params) || a.Returns != b.Returns {
		return false
	}
	for i := range a.Params {
		if a.Params[i].Type != b.Params[i].Type {
			return false
		}
	}
	return true
}

func (d *Definition) paramTypes() []expr.Type {
	out := make([]expr.Type, len(d.Params))
	for i := range d.Params {
		out[i] = d.Params[i].Type
	}
	return out
}

// Fingerprint returns a hash of the name,
// signature, and body of d. Definitions with
// equal fingerprints compile to the same code.
func (d *Definition) Fingerprint() [blake2b.Size256]byte {
	var buf []byte
	str := func(s string) {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	str(strings.ToLower(d.Name))
	buf = binary.AppendUvarint(buf, uint64(len(d.Params)))
	for i := range d.Params {
		str(d.Params[i].Name)
		buf = append(buf, byte(d.Params[i].Type))
	}
	buf = append(buf, byte(d.Returns))
	str(d.Body)
	return blake2b.Sum256(buf)
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("udfc: function without a name")
	}
	valid := func(t expr.Type) bool {
		return t >= expr.TypeBool && t <= expr.TypeString
	}
	if !valid(d.Returns) {
		return fmt.Errorf("udfc: %s: invalid return type %s", d.Name, d.Returns)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if !valid(p.Type) {
			return fmt.Errorf("udfc: %s: parameter %s has invalid type %s", d.Name, p.Name, p.Type)
		}
		if seen[p.Name] {
			return fmt.Errorf("udfc: %s: duplicate parameter %s", d.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
