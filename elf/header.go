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

// Package elf decodes the parts of ELF64 little-endian images needed to
// load a kernel: the file header and the program header table.
package elf

import (
	"bytes"
	goelf "debug/elf"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the ELF64 file header.
const HeaderSize = 64

// Header is the ELF64 file header.
type Header struct {
	Class     goelf.Class
	Data      goelf.Data
	Version   goelf.Version
	OSABI     goelf.OSABI
	Type      goelf.Type
	Machine   goelf.Machine
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// HeaderError is returned for a file header this package cannot decode.
type HeaderError struct {
	Field string
	Value any
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("unsupported ELF header: %s %v", e.Field, e.Value)
}

// ParseHeader decodes and validates the file header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &HeaderError{Field: "size", Value: len(buf)}
	}
	if !bytes.Equal(buf[:4], []byte(goelf.ELFMAG)) {
		return Header{}, &HeaderError{Field: "magic", Value: fmt.Sprintf("%q", buf[:4])}
	}
	h := Header{
		Class:     goelf.Class(buf[goelf.EI_CLASS]),
		Data:      goelf.Data(buf[goelf.EI_DATA]),
		Version:   goelf.Version(buf[goelf.EI_VERSION]),
		OSABI:     goelf.OSABI(buf[goelf.EI_OSABI]),
		Type:      goelf.Type(binary.LittleEndian.Uint16(buf[16:])),
		Machine:   goelf.Machine(binary.LittleEndian.Uint16(buf[18:])),
		Entry:     binary.LittleEndian.Uint64(buf[24:]),
		PhOff:     binary.LittleEndian.Uint64(buf[32:]),
		ShOff:     binary.LittleEndian.Uint64(buf[40:]),
		Flags:     binary.LittleEndian.Uint32(buf[48:]),
		EhSize:    binary.LittleEndian.Uint16(buf[52:]),
		PhEntSize: binary.LittleEndian.Uint16(buf[54:]),
		PhNum:     binary.LittleEndian.Uint16(buf[56:]),
		ShEntSize: binary.LittleEndian.Uint16(buf[58:]),
		ShNum:     binary.LittleEndian.Uint16(buf[60:]),
		ShStrNdx:  binary.LittleEndian.Uint16(buf[62:]),
	}
	switch {
	case h.Class != goelf.ELFCLASS64:
		return Header{}, &HeaderError{Field: "class", Value: h.Class}
	case h.Data != goelf.ELFDATA2LSB:
		return Header{}, &HeaderError{Field: "data encoding", Value: h.Data}
	case h.Version != goelf.EV_CURRENT:
		return Header{}, &HeaderError{Field: "version", Value: h.Version}
	case h.PhNum > 0 && h.PhEntSize != ProgramHeaderSize:
		return Header{}, &HeaderError{Field: "program header size", Value: h.PhEntSize}
	}
	return h, nil
}
