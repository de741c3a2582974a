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

// Package emufw is an in-memory UEFI firmware for running the loader on a
// development machine.
//
// It implements uefi.BootServices and uefi.PhysicalMemory over a page
// granular memory map, keeps a handle database with open protocol
// bookkeeping, and publishes configuration tables. Once ExitBootServices
// has succeeded every boot service fails with EFI_UNSUPPORTED and is
// counted as a violation.
package emufw

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/uefi"
)

// descriptorStride is the descriptor size reported by GetMemoryMap, larger
// than the structure as on most real firmware.
const descriptorStride = 48

// Opts configures the emulated machine.
type Opts struct {
	// MemoryStart and MemorySize describe the single bank of RAM. They
	// default to 1GiB at 0x40000000.
	MemoryStart uint64
	MemorySize  uint64
	// StaleKeys is the number of ExitBootServices calls to reject as if
	// the memory map had changed underneath the caller.
	StaleKeys int
	Vendor    string
}

// Firmware is an emulated UEFI firmware. It is safe for concurrent use.
type Firmware struct {
	mu sync.Mutex

	memMap []uefi.MemoryDescriptor
	// backing holds the contents of every allocated region, by start.
	backing map[uint64][]byte
	pools   map[uint64]uint64
	mapKey  uint64

	image      uefi.Handle
	handles    map[uintptr]*handleEntry
	nextHandle uintptr
	ifaces     map[uintptr]any
	nextIface  uintptr
	tables     []uefi.ConfigTable
	vendor     string

	staleKeys  int
	exited     bool
	violations int
	stats      Stats
}

// Stats counts boot service calls.
type Stats struct {
	Opens, Closes, Connects, Exits, Stalls int
}

var (
	_ uefi.BootServices   = &Firmware{}
	_ uefi.PhysicalMemory = &Firmware{}
)

// New returns a freshly reset firmware with a loader image handle.
func New(o Opts) *Firmware {
	if o.MemorySize == 0 {
		o.MemoryStart, o.MemorySize = 0x40000000, 1<<30
	}
	if o.Vendor == "" {
		o.Vendor = "oso emulated firmware"
	}
	f := &Firmware{
		backing:    make(map[uint64][]byte),
		pools:      make(map[uint64]uint64),
		handles:    make(map[uintptr]*handleEntry),
		nextHandle: 0x1000,
		ifaces:     make(map[uintptr]any),
		nextIface:  0xf0000000,
		staleKeys:  o.StaleKeys,
		vendor:     o.Vendor,
	}
	start := o.MemoryStart &^ (uefi.PageSize - 1)
	f.memMap = []uefi.MemoryDescriptor{{
		Type:          uefi.ConventionalMemory,
		PhysicalStart: start,
		NumberOfPages: o.MemorySize / uefi.PageSize,
	}}
	// Firmware keeps some of the memory for itself.
	if _, err := f.allocate(uefi.AllocateAnyPages, uefi.BootServicesData, 16, 0); err != nil {
		panic(err)
	}
	if _, err := f.allocate(uefi.AllocateAnyPages, uefi.RuntimeServicesData, 4, 0); err != nil {
		panic(err)
	}
	f.image = f.newHandleLocked()
	f.installLocked(f.image, uefi.LoadedImageProtocolGUID, nil)
	return f
}

// Image returns the handle of the loader image.
func (f *Firmware) Image() uefi.Handle {
	return f.image
}

// SystemTable returns a system table for the current configuration
// tables.
func (f *Firmware) SystemTable() *uefi.SystemTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &uefi.SystemTable{
		Boot:             f,
		ConfigTables:     append([]uefi.ConfigTable(nil), f.tables...),
		FirmwareVendor:   f.vendor,
		FirmwareRevision: 0x10000,
	}
}

// InstallConfigTable publishes a configuration table.
func (f *Firmware) InstallConfigTable(g uefi.GUID, addr uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tables {
		if f.tables[i].GUID == g {
			f.tables[i].Address = addr
			return
		}
	}
	f.tables = append(f.tables, uefi.ConfigTable{GUID: g, Address: addr})
}

// Exited reports whether ExitBootServices has succeeded.
func (f *Firmware) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

// Violations returns the number of boot services called after exit.
func (f *Firmware) Violations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violations
}

// Stats returns call counters.
func (f *Firmware) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// MemoryMap returns a copy of the current memory map.
func (f *Firmware) MemoryMap() []uefi.MemoryDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uefi.MemoryDescriptor(nil), f.memMap...)
}

// live must be called with f.mu held.
func (f *Firmware) live(op string) error {
	if f.exited {
		f.violations++
		glog.Errorf("%s called after ExitBootServices", op)
		return &uefi.StatusError{Op: op, Status: uefi.Unsupported, Desc: "boot services exited"}
	}
	return nil
}

func (f *Firmware) AllocatePages(kind uefi.AllocateType, mem uefi.MemoryType, pages, addr uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("AllocatePages"); err != nil {
		return 0, err
	}
	return f.allocate(kind, mem, pages, addr)
}

func (f *Firmware) FreePages(addr, pages uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("FreePages"); err != nil {
		return err
	}
	return f.free(addr, pages)
}

func (f *Firmware) AllocatePool(mem uefi.MemoryType, size uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("AllocatePool"); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, &uefi.StatusError{Op: "AllocatePool", Status: uefi.InvalidParameter}
	}
	pages := uefi.Pages(size)
	addr, err := f.allocate(uefi.AllocateAnyPages, mem, pages, 0)
	if err != nil {
		return 0, err
	}
	f.pools[addr] = pages
	return addr, nil
}

func (f *Firmware) FreePool(addr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("FreePool"); err != nil {
		return err
	}
	pages, ok := f.pools[addr]
	if !ok {
		return &uefi.StatusError{Op: "FreePool", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("%#x", addr)}
	}
	delete(f.pools, addr)
	return f.free(addr, pages)
}

func (f *Firmware) GetMemoryMap(buf []byte) (uefi.MemoryMapInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("GetMemoryMap"); err != nil {
		return uefi.MemoryMapInfo{}, err
	}
	info := uefi.MemoryMapInfo{
		MapSize:           uint64(len(f.memMap) * descriptorStride),
		MapKey:            f.mapKey,
		DescriptorSize:    descriptorStride,
		DescriptorVersion: 1,
	}
	if uint64(len(buf)) < info.MapSize {
		return info, &uefi.StatusError{Op: "GetMemoryMap", Status: uefi.BufferTooSmall}
	}
	clear(buf[:info.MapSize])
	for i, d := range f.memMap {
		uefi.EncodeMemoryDescriptor(buf[i*descriptorStride:], d)
	}
	return info, nil
}

func (f *Firmware) ExitBootServices(image uefi.Handle, mapKey uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("ExitBootServices"); err != nil {
		return err
	}
	f.stats.Exits++
	if image != f.image {
		return &uefi.StatusError{Op: "ExitBootServices", Status: uefi.InvalidParameter, Desc: "not the image handle"}
	}
	if f.staleKeys > 0 {
		// Something else allocated behind the caller's back.
		f.staleKeys--
		f.mapKey++
	}
	if mapKey != f.mapKey {
		return &uefi.StatusError{Op: "ExitBootServices", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("stale map key %d", mapKey)}
	}
	f.exited = true
	glog.V(1).Infof("Boot services exited with map key %d", mapKey)
	return nil
}

func (f *Firmware) Stall(microseconds uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("Stall"); err != nil {
		return err
	}
	f.stats.Stalls++
	return nil
}

// Bytes implements uefi.PhysicalMemory. The range must lie within a
// single allocated region. Memory stays readable after ExitBootServices.
func (f *Firmware) Bytes(addr, size uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.memMap {
		if addr < d.PhysicalStart || addr >= d.End() {
			continue
		}
		if d.Type == uefi.ConventionalMemory {
			return nil, fmt.Errorf("%#x is not allocated", addr)
		}
		if size > d.End()-addr {
			return nil, fmt.Errorf("[%#x, %#x) crosses the end of region %#x", addr, addr+size, d.PhysicalStart)
		}
		b := f.backing[d.PhysicalStart]
		off := addr - d.PhysicalStart
		return b[off : off+size : off+size], nil
	}
	return nil, fmt.Errorf("%#x is outside RAM", addr)
}

// allocate must be called with f.mu held.
func (f *Firmware) allocate(kind uefi.AllocateType, mem uefi.MemoryType, pages, addr uint64) (uint64, error) {
	if pages == 0 || mem == uefi.ConventionalMemory {
		return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.InvalidParameter}
	}
	if pages > math.MaxUint64/uefi.PageSize {
		return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("%d pages", pages)}
	}
	size := pages * uefi.PageSize
	start, found := uint64(0), false
	switch kind {
	case uefi.AllocateAddress:
		if addr%uefi.PageSize != 0 {
			return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("unaligned %#x", addr)}
		}
		if addr+size < addr {
			return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("%d pages at %#x wrap", pages, addr)}
		}
		for _, d := range f.memMap {
			if d.Type == uefi.ConventionalMemory && addr >= d.PhysicalStart && addr+size <= d.End() {
				start, found = addr, true
				break
			}
		}
	case uefi.AllocateAnyPages, uefi.AllocateMaxAddress:
		// Top down, like EDK2.
		for i := len(f.memMap) - 1; i >= 0; i-- {
			d := f.memMap[i]
			if d.Type != uefi.ConventionalMemory {
				continue
			}
			top := d.End()
			if kind == uefi.AllocateMaxAddress {
				top = min(top, (addr+1)&^(uefi.PageSize-1))
			}
			if top < d.PhysicalStart+size {
				continue
			}
			start, found = top-size, true
			break
		}
	default:
		return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.InvalidParameter}
	}
	if !found {
		return 0, &uefi.StatusError{Op: "AllocatePages", Status: uefi.NotFound, Desc: fmt.Sprintf("%d pages", pages)}
	}

	f.carve(start, pages, mem)
	f.backing[start] = make([]byte, size)
	f.mapKey++
	glog.V(2).Infof("Allocated %d %v pages at %#x", pages, mem, start)
	return start, nil
}

// carve splits the conventional region holding [start, start+pages) so
// that the range becomes its own descriptor of type mem.
func (f *Firmware) carve(start, pages uint64, mem uefi.MemoryType) {
	end := start + pages*uefi.PageSize
	var out []uefi.MemoryDescriptor
	for _, d := range f.memMap {
		if d.Type != uefi.ConventionalMemory || start < d.PhysicalStart || end > d.End() {
			out = append(out, d)
			continue
		}
		if start > d.PhysicalStart {
			out = append(out, uefi.MemoryDescriptor{Type: d.Type, PhysicalStart: d.PhysicalStart, NumberOfPages: (start - d.PhysicalStart) / uefi.PageSize, Attribute: d.Attribute})
		}
		out = append(out, uefi.MemoryDescriptor{Type: mem, PhysicalStart: start, NumberOfPages: pages, Attribute: d.Attribute})
		if end < d.End() {
			out = append(out, uefi.MemoryDescriptor{Type: d.Type, PhysicalStart: end, NumberOfPages: (d.End() - end) / uefi.PageSize, Attribute: d.Attribute})
		}
	}
	f.memMap = out
}

// free must be called with f.mu held.
func (f *Firmware) free(addr, pages uint64) error {
	i := sort.Search(len(f.memMap), func(i int) bool { return f.memMap[i].PhysicalStart >= addr })
	if i == len(f.memMap) || f.memMap[i].PhysicalStart != addr || f.memMap[i].NumberOfPages != pages || f.memMap[i].Type == uefi.ConventionalMemory {
		return &uefi.StatusError{Op: "FreePages", Status: uefi.NotFound, Desc: fmt.Sprintf("%d pages at %#x", pages, addr)}
	}
	f.memMap[i].Type = uefi.ConventionalMemory
	delete(f.backing, addr)

	// Coalesce free neighbours.
	var out []uefi.MemoryDescriptor
	for _, d := range f.memMap {
		if n := len(out); n > 0 && out[n-1].Type == uefi.ConventionalMemory && d.Type == uefi.ConventionalMemory && out[n-1].End() == d.PhysicalStart {
			out[n-1].NumberOfPages += d.NumberOfPages
			continue
		}
		out = append(out, d)
	}
	f.memMap = out
	f.mapKey++
	return nil
}
