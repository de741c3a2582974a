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

//go:build tamago && (amd64 || arm64)

package uefi

import (
	"errors"
	"fmt"
	"runtime"
	"unicode/utf16"
	"unsafe"

	"github.com/usbarmory/tamago/dma"
)

// defined in call_$GOARCH.s
func callService(slot, a1, a2, a3, a4, a5, a6 uint64) uint64

// EFI_SYSTEM_TABLE offsets
const (
	systemTableSignature = 0x5453595320494249

	stFirmwareVendor   = 0x18
	stFirmwareRevision = 0x20
	stConOut           = 0x40
	stBootServices     = 0x60
	stNumberOfTables   = 0x68
	stConfigTable      = 0x70

	configTableEntrySize = 24
)

// EFI_BOOT_SERVICES offsets
const (
	allocatePages      = 0x028
	freePages          = 0x030
	getMemoryMap       = 0x038
	allocatePool       = 0x040
	freePool           = 0x048
	exitBootServices   = 0x0e8
	stall              = 0x0f8
	connectController  = 0x108
	openProtocol       = 0x118
	closeProtocol      = 0x120
	locateHandleBuffer = 0x138
)

func ptrval[T any](p *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)))
}

func read64(addr uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(addr)))
}

func read32(addr uint64) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

func readString16(addr uint64) string {
	if addr == 0 {
		return ""
	}
	var s []uint16
	for p := addr; ; p += 2 {
		c := *(*uint16)(unsafe.Pointer(uintptr(p)))
		if c == 0 {
			break
		}
		s = append(s, c)
	}
	return string(utf16.Decode(s))
}

// Firmware issues boot services through the firmware's EFI_BOOT_SERVICES
// table.
type Firmware struct {
	base   uint64
	conOut uint64
}

var _ BootServices = &Firmware{}

// InitFirmware decodes the system table handed to the image entry point
// and records it, together with the image handle, with Init.
func InitFirmware(imageHandle, systemTable uint64) (*Firmware, error) {
	image, err := NewHandle(uintptr(imageHandle))
	if err != nil {
		return nil, fmt.Errorf("image handle: %w", err)
	}
	if systemTable == 0 {
		return nil, errors.New("null system table")
	}
	if sig := read64(systemTable); sig != systemTableSignature {
		return nil, fmt.Errorf("bad system table signature %#x", sig)
	}

	f := &Firmware{
		base:   read64(systemTable + stBootServices),
		conOut: read64(systemTable + stConOut),
	}
	st := &SystemTable{
		Boot:             f,
		FirmwareVendor:   readString16(read64(systemTable + stFirmwareVendor)),
		FirmwareRevision: read32(systemTable + stFirmwareRevision),
	}
	n := read64(systemTable + stNumberOfTables)
	tables := read64(systemTable + stConfigTable)
	for i := uint64(0); i < n; i++ {
		e := tables + i*configTableEntrySize
		var t ConfigTable
		copy(t.GUID[:], unsafe.Slice((*byte)(unsafe.Pointer(uintptr(e))), len(t.GUID)))
		t.Address = read64(e + 16)
		st.ConfigTables = append(st.ConfigTables, t)
	}

	if err := Init(image, st); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Firmware) call(off uint64, args ...uint64) Status {
	var a [6]uint64
	copy(a[:], args)
	return Status(callService(f.base+off, a[0], a[1], a[2], a[3], a[4], a[5]))
}

func (f *Firmware) LocateHandleBuffer(search SearchType, protocol *GUID, key SearchKey) ([]Handle, error) {
	var g uint64
	if protocol != nil {
		g = ptrval(protocol)
	}
	var n, buf uint64
	s := f.call(locateHandleBuffer, uint64(search), g, uint64(key), ptrval(&n), ptrval(&buf))
	runtime.KeepAlive(protocol)
	if err := Check("LocateHandleBuffer", s); err != nil {
		return nil, err
	}

	// The buffer belongs to firmware pool memory, copy it out before
	// anything else allocates.
	raw := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(buf))), n)
	handles := make([]Handle, 0, n)
	for _, p := range raw {
		if p != 0 {
			handles = append(handles, Handle{ptr: uintptr(p)})
		}
	}
	if err := f.FreePool(buf); err != nil {
		return nil, err
	}
	return handles, nil
}

func (f *Firmware) OpenProtocol(target Handle, protocol GUID, agent, controller Handle, attrs OpenAttributes) (uintptr, error) {
	var iface uint64
	s := f.call(openProtocol,
		uint64(target.ptr),
		ptrval(&protocol),
		ptrval(&iface),
		uint64(agent.ptr),
		uint64(controller.ptr),
		uint64(attrs),
	)
	if s.IsError() {
		return 0, &StatusError{Op: "OpenProtocol", Status: s, Desc: protocol.String()}
	}
	return uintptr(iface), nil
}

func (f *Firmware) CloseProtocol(target Handle, protocol GUID, agent, controller Handle) error {
	s := f.call(closeProtocol,
		uint64(target.ptr),
		ptrval(&protocol),
		uint64(agent.ptr),
		uint64(controller.ptr),
	)
	if s.IsError() {
		return &StatusError{Op: "CloseProtocol", Status: s, Desc: protocol.String()}
	}
	return nil
}

func (f *Firmware) ConnectController(controller, driverImage Handle, recursive bool) error {
	var drivers [2]uint64
	var list uint64
	if !driverImage.IsNull() {
		drivers[0] = uint64(driverImage.ptr)
		list = ptrval(&drivers)
	}
	var r uint64
	if recursive {
		r = 1
	}
	s := f.call(connectController, uint64(controller.ptr), list, 0, r)
	runtime.KeepAlive(&drivers)
	return Check("ConnectController", s)
}

func (f *Firmware) AllocatePages(kind AllocateType, mem MemoryType, pages, addr uint64) (uint64, error) {
	a := addr
	s := f.call(allocatePages, uint64(kind), uint64(mem), pages, ptrval(&a))
	if s.IsError() {
		return 0, &StatusError{Op: "AllocatePages", Status: s, Desc: fmt.Sprintf("%d pages at %#x", pages, addr)}
	}
	return a, nil
}

func (f *Firmware) FreePages(addr, pages uint64) error {
	return Check("FreePages", f.call(freePages, addr, pages))
}

func (f *Firmware) AllocatePool(mem MemoryType, size uint64) (uint64, error) {
	var buf uint64
	s := f.call(allocatePool, uint64(mem), size, ptrval(&buf))
	if err := Check("AllocatePool", s); err != nil {
		return 0, err
	}
	return buf, nil
}

func (f *Firmware) FreePool(addr uint64) error {
	return Check("FreePool", f.call(freePool, addr))
}

func (f *Firmware) GetMemoryMap(buf []byte) (MemoryMapInfo, error) {
	info := MemoryMapInfo{MapSize: uint64(len(buf))}
	var p uint64
	if len(buf) > 0 {
		p = ptrval(&buf[0])
	}
	s := f.call(getMemoryMap,
		ptrval(&info.MapSize),
		p,
		ptrval(&info.MapKey),
		ptrval(&info.DescriptorSize),
		ptrval(&info.DescriptorVersion),
	)
	runtime.KeepAlive(buf)
	return info, Check("GetMemoryMap", s)
}

func (f *Firmware) ExitBootServices(image Handle, mapKey uint64) error {
	return Check("ExitBootServices", f.call(exitBootServices, uint64(image.ptr), mapKey))
}

func (f *Firmware) Stall(microseconds uint64) error {
	return Check("Stall", f.call(stall, microseconds))
}

// Memory gives direct access to identity-mapped physical memory.
type Memory struct{}

// Bytes implements PhysicalMemory over a DMA region spanning the range.
func (Memory) Bytes(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if addr+size < addr {
		return nil, fmt.Errorf("region %#x+%#x wraps", addr, size)
	}
	// Reserve returns regionAlign aligned buffers only.
	base, pad, n := alignedSpan(addr, size)
	r, err := dma.NewRegion(uint(base), int(n), true)
	if err != nil {
		return nil, fmt.Errorf("region %#x+%#x: %w", addr, size, err)
	}
	_, buf := r.Reserve(int(n), 0)
	if uint64(len(buf)) != n {
		return nil, fmt.Errorf("region %#x+%#x: reserved %d bytes", addr, size, len(buf))
	}
	return buf[pad : pad+size : pad+size], nil
}

// EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL offsets
const outputString = 0x08

// Console writes to the firmware text console. It must not be used after
// ExitBootServices.
func (f *Firmware) Console() *Console {
	return &Console{conOut: f.conOut}
}

// Console is an io.Writer over EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.
type Console struct {
	conOut uint64
}

func (c *Console) Write(p []byte) (int, error) {
	if c.conOut == 0 {
		return 0, errors.New("no console")
	}
	var s []uint16
	for _, r := range string(p) {
		if r == '\n' {
			s = append(s, '\r')
		}
		s = utf16.AppendRune(s, r)
	}
	s = append(s, 0)
	st := Status(callService(c.conOut+outputString, c.conOut, ptrval(&s[0]), 0, 0, 0, 0))
	runtime.KeepAlive(s)
	if err := Check("OutputString", st); err != nil {
		return 0, err
	}
	return len(p), nil
}
