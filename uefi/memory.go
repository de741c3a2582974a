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
	"encoding/binary"
	"fmt"
)

// PageSize is the UEFI page size used by AllocatePages.
const PageSize = 4096

// Pages returns the number of pages needed to hold size bytes.
func Pages(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}

// regionAlign is the alignment tamago DMA regions hand out buffers at.
const regionAlign = 8

// alignedSpan returns the regionAlign aligned range [base, base+n) covering
// [addr, addr+size), with addr at offset pad within it.
func alignedSpan(addr, size uint64) (base, pad, n uint64) {
	base = addr &^ (regionAlign - 1)
	pad = addr - base
	return base, pad, pad + size
}

// AllocateType is EFI_ALLOCATE_TYPE.
type AllocateType uint32

const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
)

// MemoryType is EFI_MEMORY_TYPE.
type MemoryType uint32

const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
)

var memoryTypeNames = [...]string{
	"Reserved",
	"LoaderCode",
	"LoaderData",
	"BootServicesCode",
	"BootServicesData",
	"RuntimeServicesCode",
	"RuntimeServicesData",
	"Conventional",
	"Unusable",
	"ACPIReclaim",
	"ACPINVS",
	"MMIO",
	"MMIOPortSpace",
	"PalCode",
	"Persistent",
}

func (t MemoryType) String() string {
	if int(t) < len(memoryTypeNames) {
		return memoryTypeNames[t]
	}
	return fmt.Sprintf("MemoryType(%#x)", uint32(t))
}

// MemoryMapInfo is what GetMemoryMap reports besides the descriptors.
type MemoryMapInfo struct {
	// MapSize is the number of bytes written, or needed when the buffer
	// was too small.
	MapSize uint64
	// MapKey identifies the generation of the map and must be passed
	// unchanged to ExitBootServices.
	MapKey            uint64
	DescriptorSize    uint64
	DescriptorVersion uint32
}

// MemoryDescriptor is one decoded EFI_MEMORY_DESCRIPTOR.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// End returns the first physical address past the region.
func (d MemoryDescriptor) End() uint64 {
	return d.PhysicalStart + d.NumberOfPages*PageSize
}

// MemoryDescriptorSize is the size of the descriptor fields we decode.
// Firmware may use a larger stride, reported as DescriptorSize.
const MemoryDescriptorSize = 40

// memoryMapSlack is the number of spare descriptors allowed for when
// sizing the buffer, since allocating it may itself split a region.
const memoryMapSlack = 8

// MemoryMapBufferSize returns the buffer size to allocate for a map whose
// size was reported by a failed GetMemoryMap call.
func MemoryMapBufferSize(info MemoryMapInfo) uint64 {
	ds := info.DescriptorSize
	if ds == 0 {
		ds = MemoryDescriptorSize
	}
	return info.MapSize + memoryMapSlack*ds
}

// MemoryMap is a snapshot of the firmware memory map.
type MemoryMap struct {
	Key         uint64
	Descriptors []MemoryDescriptor
}

// EncodeMemoryDescriptor writes d at the start of b, which must hold at
// least MemoryDescriptorSize bytes.
func EncodeMemoryDescriptor(b []byte, d MemoryDescriptor) {
	binary.LittleEndian.PutUint32(b[0:], uint32(d.Type))
	binary.LittleEndian.PutUint32(b[4:], 0)
	binary.LittleEndian.PutUint64(b[8:], d.PhysicalStart)
	binary.LittleEndian.PutUint64(b[16:], d.VirtualStart)
	binary.LittleEndian.PutUint64(b[24:], d.NumberOfPages)
	binary.LittleEndian.PutUint64(b[32:], d.Attribute)
}

// DecodeMemoryMap decodes the descriptors GetMemoryMap wrote into buf.
func DecodeMemoryMap(buf []byte, info MemoryMapInfo) (*MemoryMap, error) {
	ds := info.DescriptorSize
	if ds < MemoryDescriptorSize {
		return nil, fmt.Errorf("descriptor size %d smaller than %d", ds, MemoryDescriptorSize)
	}
	if info.MapSize > uint64(len(buf)) {
		return nil, fmt.Errorf("map size %d exceeds buffer of %d bytes", info.MapSize, len(buf))
	}
	if info.MapSize%ds != 0 {
		return nil, fmt.Errorf("map size %d is not a multiple of descriptor size %d", info.MapSize, ds)
	}

	m := &MemoryMap{
		Key:         info.MapKey,
		Descriptors: make([]MemoryDescriptor, 0, info.MapSize/ds),
	}
	for off := uint64(0); off < info.MapSize; off += ds {
		b := buf[off : off+ds]
		m.Descriptors = append(m.Descriptors, MemoryDescriptor{
			Type:          MemoryType(binary.LittleEndian.Uint32(b[0:])),
			PhysicalStart: binary.LittleEndian.Uint64(b[8:]),
			VirtualStart:  binary.LittleEndian.Uint64(b[16:]),
			NumberOfPages: binary.LittleEndian.Uint64(b[24:]),
			Attribute:     binary.LittleEndian.Uint64(b[32:]),
		})
	}
	return m, nil
}

// PhysicalMemory gives the loader access to physical memory it has
// allocated through AllocatePages.
type PhysicalMemory interface {
	// Bytes returns a writable view of [addr, addr+size).
	Bytes(addr, size uint64) ([]byte, error)
}
