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

package elf

import (
	"fmt"
	"strings"
)

// SegmentType is the p_type of a program header.
type SegmentType uint32

const (
	Null    SegmentType = 0
	Load    SegmentType = 1
	Dynamic SegmentType = 2
	Interp  SegmentType = 3
	Note    SegmentType = 4
	Shlib   SegmentType = 5
	Phdr    SegmentType = 6
	TLS     SegmentType = 7

	LoOS   SegmentType = 0x60000000
	HiOS   SegmentType = 0x6fffffff
	LoProc SegmentType = 0x70000000
	HiProc SegmentType = 0x7fffffff

	GNUEHFrame  SegmentType = 0x6474e550
	GNUStack    SegmentType = 0x6474e551
	GNURelRO    SegmentType = 0x6474e552
	GNUProperty SegmentType = 0x6474e553
)

var segmentTypeNames = map[SegmentType]string{
	Null:        "NULL",
	Load:        "LOAD",
	Dynamic:     "DYNAMIC",
	Interp:      "INTERP",
	Note:        "NOTE",
	Shlib:       "SHLIB",
	Phdr:        "PHDR",
	TLS:         "TLS",
	GNUEHFrame:  "GNU_EH_FRAME",
	GNUStack:    "GNU_STACK",
	GNURelRO:    "GNU_RELRO",
	GNUProperty: "GNU_PROPERTY",
}

// UnknownSegmentTypeError is returned for a p_type outside every defined
// and reserved range.
type UnknownSegmentTypeError struct {
	Value uint32
}

func (e *UnknownSegmentTypeError) Error() string {
	return fmt.Sprintf("unknown segment type %#x", e.Value)
}

// SegmentTypeOf maps a raw p_type value to a SegmentType. Values in the
// OS and processor specific ranges are accepted as they are.
func SegmentTypeOf(v uint32) (SegmentType, error) {
	t := SegmentType(v)
	switch {
	case t <= TLS:
	case t >= LoOS && t <= HiOS:
	case t >= LoProc && t <= HiProc:
	default:
		return 0, &UnknownSegmentTypeError{Value: v}
	}
	return t, nil
}

// IsOS reports whether t lies in the operating system specific range.
func (t SegmentType) IsOS() bool {
	return t >= LoOS && t <= HiOS
}

// IsProc reports whether t lies in the processor specific range.
func (t SegmentType) IsProc() bool {
	return t >= LoProc && t <= HiProc
}

func (t SegmentType) String() string {
	if n, ok := segmentTypeNames[t]; ok {
		return n
	}
	switch {
	case t.IsOS():
		return fmt.Sprintf("LOOS+%#x", uint32(t-LoOS))
	case t.IsProc():
		return fmt.Sprintf("LOPROC+%#x", uint32(t-LoProc))
	}
	return fmt.Sprintf("SegmentType(%#x)", uint32(t))
}

// Flags is the p_flags permission mask of a segment.
type Flags uint32

const (
	X Flags = 1 << iota
	W
	R
)

// String renders the flags the way readelf does, e.g. "R E".
func (f Flags) String() string {
	var b strings.Builder
	for _, p := range []struct {
		f Flags
		c byte
	}{{R, 'R'}, {W, 'W'}, {X, 'E'}} {
		if f&p.f != 0 {
			b.WriteByte(p.c)
		} else {
			b.WriteByte(' ')
		}
	}
	if rest := f &^ (R | W | X); rest != 0 {
		fmt.Fprintf(&b, "+%#x", uint32(rest))
	}
	return b.String()
}
