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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPages(t *testing.T) {
	for _, test := range []struct {
		size, want uint64
	}{
		{0, 0},
		{1, 1},
		{4096, 1},
		{4097, 2},
		{0x3000, 3},
	} {
		if got := Pages(test.size); got != test.want {
			t.Errorf("Pages(%#x) = %d, want %d", test.size, got, test.want)
		}
	}
}

func TestAlignedSpan(t *testing.T) {
	for _, test := range []struct {
		desc         string
		addr, size   uint64
		base, pad, n uint64
	}{
		{desc: "aligned", addr: 0x401000, size: 0x100, base: 0x401000, pad: 0, n: 0x100},
		{desc: "unaligned", addr: 0x401234, size: 0x100, base: 0x401230, pad: 4, n: 0x104},
		{desc: "last byte of a word", addr: 0x40000f, size: 1, base: 0x400008, pad: 7, n: 8},
	} {
		t.Run(test.desc, func(t *testing.T) {
			base, pad, n := alignedSpan(test.addr, test.size)
			if base != test.base || pad != test.pad || n != test.n {
				t.Errorf("alignedSpan(%#x, %#x) = %#x, %d, %#x, want %#x, %d, %#x", test.addr, test.size, base, pad, n, test.base, test.pad, test.n)
			}
			if base%regionAlign != 0 || base+pad != test.addr || n < pad+test.size {
				t.Errorf("span [%#x, %#x) does not hold [%#x, %#x) at an aligned base", base, base+n, test.addr, test.addr+test.size)
			}
		})
	}
}

func TestDecodeMemoryMap(t *testing.T) {
	want := []MemoryDescriptor{
		{Type: ConventionalMemory, PhysicalStart: 0x100000, NumberOfPages: 16, Attribute: 0xf},
		{Type: LoaderData, PhysicalStart: 0x200000, VirtualStart: 0x200000, NumberOfPages: 2},
		{Type: RuntimeServicesData, PhysicalStart: 0x7f000000, NumberOfPages: 1, Attribute: 1 << 63},
	}
	// Firmware is free to use a stride larger than the structure.
	const stride = 48
	buf := make([]byte, stride*(len(want)+2))
	for i, d := range want {
		EncodeMemoryDescriptor(buf[i*stride:], d)
	}
	info := MemoryMapInfo{MapSize: uint64(stride * len(want)), MapKey: 7, DescriptorSize: stride, DescriptorVersion: 1}

	m, err := DecodeMemoryMap(buf, info)
	if err != nil {
		t.Fatalf("DecodeMemoryMap: %v", err)
	}
	if m.Key != 7 {
		t.Errorf("Key = %d, want 7", m.Key)
	}
	if diff := cmp.Diff(want, m.Descriptors); diff != "" {
		t.Errorf("Descriptors diff (-want +got):\n%s", diff)
	}
	if got, want := m.Descriptors[0].End(), uint64(0x110000); got != want {
		t.Errorf("End() = %#x, want %#x", got, want)
	}
}

func TestDecodeMemoryMapErrors(t *testing.T) {
	buf := make([]byte, 80)
	for _, test := range []struct {
		desc string
		info MemoryMapInfo
	}{
		{desc: "small descriptor", info: MemoryMapInfo{MapSize: 40, DescriptorSize: 24}},
		{desc: "overflows buffer", info: MemoryMapInfo{MapSize: 120, DescriptorSize: 40}},
		{desc: "ragged", info: MemoryMapInfo{MapSize: 60, DescriptorSize: 40}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if _, err := DecodeMemoryMap(buf, test.info); err == nil {
				t.Error("DecodeMemoryMap succeeded")
			}
		})
	}
}

func TestMemoryMapBufferSize(t *testing.T) {
	if got, want := MemoryMapBufferSize(MemoryMapInfo{MapSize: 480, DescriptorSize: 48}), uint64(480+8*48); got != want {
		t.Errorf("MemoryMapBufferSize = %d, want %d", got, want)
	}
	if got, want := MemoryMapBufferSize(MemoryMapInfo{MapSize: 400}), uint64(400+8*MemoryDescriptorSize); got != want {
		t.Errorf("MemoryMapBufferSize without descriptor size = %d, want %d", got, want)
	}
}

func TestFindConfigTable(t *testing.T) {
	tables := []ConfigTable{
		{GUID: ACPI20TableGUID, Address: 0x1000},
		{GUID: DeviceTreeTableGUID, Address: 0x2000},
		{GUID: DeviceTreeTableGUID, Address: 0x3000},
	}
	if a, ok := FindConfigTable(tables, DeviceTreeTableGUID); !ok || a != 0x2000 {
		t.Errorf("FindConfigTable(dtb) = %#x, %v, want 0x2000, true", a, ok)
	}
	if _, ok := FindConfigTable(tables, SMBIOS3TableGUID); ok {
		t.Error("FindConfigTable(smbios) found a table")
	}
	if _, ok := FindConfigTable(nil, DeviceTreeTableGUID); ok {
		t.Error("FindConfigTable(nil) found a table")
	}
}
