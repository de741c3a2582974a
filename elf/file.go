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
	"math"
)

// File is a decoded ELF64 image.
type File struct {
	Header Header
	Progs  []ProgramHeader
}

// Parse decodes the file header and program header table of an image.
func Parse(buf []byte) (*File, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PhOff > math.MaxInt {
		return nil, &TableBoundsError{Cursor: -1, Count: int(h.PhNum), Len: len(buf)}
	}
	cursor := int(h.PhOff)
	progs, err := ParseProgramHeaders(buf, &cursor, int(h.PhNum))
	if err != nil {
		return nil, fmt.Errorf("program header table: %w", err)
	}
	return &File{Header: h, Progs: progs}, nil
}

// LoadSegments returns the PT_LOAD headers in table order.
func (f *File) LoadSegments() []ProgramHeader {
	var l []ProgramHeader
	for _, p := range f.Progs {
		if p.Type == Load {
			l = append(l, p)
		}
	}
	return l
}

// LoadRange returns the span [head, tail) of virtual addresses covered by
// the PT_LOAD segments. ok is false when there are none.
func (f *File) LoadRange() (head, tail uint64, ok bool) {
	head = math.MaxUint64
	for _, p := range f.LoadSegments() {
		ok = true
		head = min(head, p.VirtualAddress)
		tail = max(tail, p.VirtualAddress+p.MemorySize)
	}
	if !ok {
		return 0, 0, false
	}
	return head, tail, true
}
