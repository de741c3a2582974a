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
	"encoding/binary"
	"fmt"
)

// ProgramHeaderSize is the size of an ELF64 program header record.
const ProgramHeaderSize = 56

// ProgramHeader describes one segment of an ELF64 image.
type ProgramHeader struct {
	Type            SegmentType
	Flags           Flags
	Offset          uint64
	VirtualAddress  uint64
	PhysicalAddress uint64
	FileSize        uint64
	MemorySize      uint64
	Align           uint64
}

// TableBoundsError is returned when a program header table does not fit
// in its buffer.
type TableBoundsError struct {
	Cursor int
	Count  int
	Len    int
}

func (e *TableBoundsError) Error() string {
	return fmt.Sprintf("%d program headers at offset %d do not fit in %d bytes", e.Count, e.Cursor, e.Len)
}

// ParseProgramHeaders decodes count little-endian program headers from buf
// starting at *cursor, which is advanced past each decoded record.
//
// The table is checked against len(buf) before anything is read. Only the
// headers are decoded, segment contents are neither read nor copied.
func ParseProgramHeaders(buf []byte, cursor *int, count int) ([]ProgramHeader, error) {
	if count < 0 || *cursor < 0 || count > len(buf)/ProgramHeaderSize || *cursor > len(buf)-count*ProgramHeaderSize {
		return nil, &TableBoundsError{Cursor: *cursor, Count: count, Len: len(buf)}
	}

	phs := make([]ProgramHeader, 0, count)
	for i := 0; i < count; i++ {
		b := buf[*cursor : *cursor+ProgramHeaderSize]
		t, err := SegmentTypeOf(binary.LittleEndian.Uint32(b[0:]))
		if err != nil {
			return nil, fmt.Errorf("program header %d: %w", i, err)
		}
		phs = append(phs, ProgramHeader{
			Type:            t,
			Flags:           Flags(binary.LittleEndian.Uint32(b[4:])),
			Offset:          binary.LittleEndian.Uint64(b[8:]),
			VirtualAddress:  binary.LittleEndian.Uint64(b[16:]),
			PhysicalAddress: binary.LittleEndian.Uint64(b[24:]),
			FileSize:        binary.LittleEndian.Uint64(b[32:]),
			MemorySize:      binary.LittleEndian.Uint64(b[40:]),
			Align:           binary.LittleEndian.Uint64(b[48:]),
		})
		*cursor += ProgramHeaderSize
	}
	return phs, nil
}

// AppendProgramHeader appends the little-endian encoding of ph to b.
func AppendProgramHeader(b []byte, ph ProgramHeader) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(ph.Type))
	b = binary.LittleEndian.AppendUint32(b, uint32(ph.Flags))
	b = binary.LittleEndian.AppendUint64(b, ph.Offset)
	b = binary.LittleEndian.AppendUint64(b, ph.VirtualAddress)
	b = binary.LittleEndian.AppendUint64(b, ph.PhysicalAddress)
	b = binary.LittleEndian.AppendUint64(b, ph.FileSize)
	b = binary.LittleEndian.AppendUint64(b, ph.MemorySize)
	b = binary.LittleEndian.AppendUint64(b, ph.Align)
	return b
}
