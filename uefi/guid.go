// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uefi

import (
	"fmt"

	"github.com/google/uuid"
)

// GUID is a 128-bit identifier naming a firmware protocol or configuration
// table, held in firmware memory order.
//
// The text form groups the digits as time_low-time_mid-time_hi-clock_seq-node.
// The three leading integer fields are stored little-endian, so their bytes
// are reversed with respect to the text; clock_seq and node are stored in
// text order.
type GUID [16]byte

// FormatErrorKind classifies a malformed GUID string.
type FormatErrorKind int

const (
	// InvalidHexChar means a character that is neither a hex digit nor a
	// separator was found.
	InvalidHexChar FormatErrorKind = iota + 1
	// InvalidLength means the string did not hold exactly 32 hex digits.
	InvalidLength
)

// FormatError is returned by ParseGUID for malformed input.
type FormatError struct {
	Kind FormatErrorKind
	// Char and Offset locate the offending character for InvalidHexChar.
	Char   rune
	Offset int
	// Digits is the number of hex digits found for InvalidLength.
	Digits int
}

func (e *FormatError) Error() string {
	switch e.Kind {
	case InvalidHexChar:
		return fmt.Sprintf("invalid hex char %q at offset %d", e.Char, e.Offset)
	case InvalidLength:
		return fmt.Sprintf("invalid GUID length: got %d hex digits, want 32", e.Digits)
	}
	return "invalid GUID"
}

// hexValue maps an ASCII character to its nibble value, or 0xff.
var hexValue = func() (t [256]byte) {
	for i := range t {
		t[i] = 0xff
	}
	for i, c := range "0123456789abcdef" {
		t[c] = byte(i)
	}
	for i, c := range "ABCDEF" {
		t[c] = byte(10 + i)
	}
	return t
}()

func isSeparator(c rune) bool {
	switch c {
	case '-', '{', '}', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// field widths, in bytes, of the six canonical GUID fields.
var fieldWidths = [...]int{4, 2, 2, 1, 1, 6}

// ParseGUID parses the text form of a GUID.
//
// Separators ('-', braces and whitespace) are ignored wherever they appear;
// any other non-hex character is rejected, as is any input which does not
// hold exactly 32 hex digits.
func ParseGUID(s string) (GUID, error) {
	var digits [32]byte
	n := 0
	for off, c := range s {
		if isSeparator(c) {
			continue
		}
		if c > 0xff || hexValue[c] == 0xff {
			return GUID{}, &FormatError{Kind: InvalidHexChar, Char: c, Offset: off}
		}
		if n < len(digits) {
			digits[n] = hexValue[c]
		}
		n++
	}
	if n != len(digits) {
		return GUID{}, &FormatError{Kind: InvalidLength, Digits: n}
	}

	var text [16]byte
	for i := range text {
		text[i] = digits[2*i]<<4 | digits[2*i+1]
	}

	var g GUID
	pos := 0
	for i, w := range fieldWidths {
		f := g[pos : pos+w]
		copy(f, text[pos:pos+w])
		// Only the integer fields are little-endian in memory.
		if i < 3 {
			for l, r := 0, len(f)-1; l < r; l, r = l+1, r-1 {
				f[l], f[r] = f[r], f[l]
			}
		}
		pos += w
	}
	return g, nil
}

// MustParseGUID is like ParseGUID but panics on malformed input.
//
// It is meant for GUID literals in package-level declarations, where a typo
// stops the program (and every test) during initialisation.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(fmt.Sprintf("uefi: MustParseGUID(%q): %v", s, err))
	}
	return g
}

// GUIDFromUUID converts an RFC 4122 UUID into firmware memory order.
func GUIDFromUUID(u uuid.UUID) GUID {
	g := GUID(u)
	g[0], g[1], g[2], g[3] = u[3], u[2], u[1], u[0]
	g[4], g[5] = u[5], u[4]
	g[6], g[7] = u[7], u[6]
	return g
}

// UUID returns g in RFC 4122 byte order.
func (g GUID) UUID() uuid.UUID {
	u := uuid.UUID(g)
	u[0], u[1], u[2], u[3] = g[3], g[2], g[1], g[0]
	u[4], u[5] = g[5], g[4]
	u[6], u[7] = g[7], g[6]
	return u
}

// String returns the canonical lower-case 8-4-4-4-12 form.
func (g GUID) String() string {
	return g.UUID().String()
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// Well-known protocol and configuration table GUIDs.
var (
	SimpleFileSystemProtocolGUID = MustParseGUID("964e5b22-6459-11d2-8e39-00a0c969723b")
	LoadedImageProtocolGUID      = MustParseGUID("5b1b31a1-9562-11d2-8e3f-00a0c969723b")
	DevicePathProtocolGUID       = MustParseGUID("09576e91-6d3f-11d2-8e39-00a0c969723b")
	GraphicsOutputProtocolGUID   = MustParseGUID("9042a9de-23dc-4a38-96fb-7aded080516a")
	SimpleTextOutputProtocolGUID = MustParseGUID("387477c2-69c7-11d2-8e39-00a0c969723b")

	DeviceTreeTableGUID = MustParseGUID("b1b621d5-f19c-41a5-830b-d9152c69aae0")
	ACPI20TableGUID     = MustParseGUID("8868e871-e4f1-11d3-bc22-0080c73c8881")
	SMBIOS3TableGUID    = MustParseGUID("f2fd1544-9794-4a2c-992e-e5bbcf20e394")
)
