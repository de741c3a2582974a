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

// Package elftest builds small ELF64 images for tests.
package elftest

import (
	goelf "debug/elf"
	"encoding/binary"

	"github.com/oso-os/oso-loader/elf"
)

// Segment is one program header plus the file bytes it covers.
type Segment struct {
	Type  elf.SegmentType
	Flags elf.Flags
	Addr  uint64
	Data  []byte
	// MemSize defaults to len(Data).
	MemSize uint64
	Align   uint64
}

// Image describes an ELF64 executable.
type Image struct {
	Machine  goelf.Machine
	Entry    uint64
	Segments []Segment
}

// Bytes lays out the image: file header, program header table, then the
// segment contents in order.
func (im Image) Bytes() []byte {
	phoff := uint64(elf.HeaderSize)
	off := phoff + uint64(len(im.Segments))*elf.ProgramHeaderSize

	var phs, data []byte
	for _, s := range im.Segments {
		ms := s.MemSize
		if ms == 0 {
			ms = uint64(len(s.Data))
		}
		phs = elf.AppendProgramHeader(phs, elf.ProgramHeader{
			Type:            s.Type,
			Flags:           s.Flags,
			Offset:          off + uint64(len(data)),
			VirtualAddress:  s.Addr,
			PhysicalAddress: s.Addr,
			FileSize:        uint64(len(s.Data)),
			MemorySize:      ms,
			Align:           s.Align,
		})
		data = append(data, s.Data...)
	}

	h := make([]byte, elf.HeaderSize)
	copy(h, goelf.ELFMAG)
	h[goelf.EI_CLASS] = byte(goelf.ELFCLASS64)
	h[goelf.EI_DATA] = byte(goelf.ELFDATA2LSB)
	h[goelf.EI_VERSION] = byte(goelf.EV_CURRENT)
	binary.LittleEndian.PutUint16(h[16:], uint16(goelf.ET_EXEC))
	binary.LittleEndian.PutUint16(h[18:], uint16(im.Machine))
	binary.LittleEndian.PutUint32(h[20:], uint32(goelf.EV_CURRENT))
	binary.LittleEndian.PutUint64(h[24:], im.Entry)
	binary.LittleEndian.PutUint64(h[32:], phoff)
	binary.LittleEndian.PutUint16(h[52:], elf.HeaderSize)
	binary.LittleEndian.PutUint16(h[54:], elf.ProgramHeaderSize)
	binary.LittleEndian.PutUint16(h[56:], uint16(len(im.Segments)))
	binary.LittleEndian.PutUint16(h[58:], 64)

	out := append(h, phs...)
	return append(out, data...)
}
