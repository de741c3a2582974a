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

package emufw_test

import (
	"bytes"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/oso-os/oso-loader/internal/emufw"
	"github.com/oso-os/oso-loader/uefi"
	"github.com/u-root/u-root/pkg/dt"
)

const (
	ramStart = 0x40000000
	ramSize  = 64 << 20
)

func newFirmware(t *testing.T, staleKeys int) *emufw.Firmware {
	t.Helper()
	return emufw.New(emufw.Opts{MemoryStart: ramStart, MemorySize: ramSize, StaleKeys: staleKeys})
}

func memoryMap(t *testing.T, f *emufw.Firmware) *uefi.MemoryMap {
	t.Helper()
	info, err := f.GetMemoryMap(nil)
	if !errors.Is(err, uefi.BufferTooSmall) {
		t.Fatalf("GetMemoryMap(nil): %v, want %v", err, uefi.BufferTooSmall)
	}
	buf := make([]byte, uefi.MemoryMapBufferSize(info))
	info, err = f.GetMemoryMap(buf)
	if err != nil {
		t.Fatalf("GetMemoryMap: %v", err)
	}
	m, err := uefi.DecodeMemoryMap(buf, info)
	if err != nil {
		t.Fatalf("DecodeMemoryMap: %v", err)
	}
	return m
}

func TestMemoryMapCoversRAM(t *testing.T) {
	f := newFirmware(t, 0)
	m := memoryMap(t, f)

	if diff := cmp.Diff(f.MemoryMap(), m.Descriptors); diff != "" {
		t.Errorf("decoded map differs from firmware map (-want +got):\n%s", diff)
	}
	next := uint64(ramStart)
	for _, d := range m.Descriptors {
		if d.PhysicalStart != next {
			t.Fatalf("descriptor %+v does not start at %#x", d, next)
		}
		next = d.End()
	}
	if next != ramStart+ramSize {
		t.Errorf("map ends at %#x, want %#x", next, ramStart+ramSize)
	}
}

func TestAllocatePages(t *testing.T) {
	for _, test := range []struct {
		desc    string
		kind    uefi.AllocateType
		pages   uint64
		addr    uint64
		want    uint64
		wantErr uefi.Status
	}{
		{
			desc:  "at address",
			kind:  uefi.AllocateAddress,
			pages: 4,
			addr:  ramStart + 0x100000,
			want:  ramStart + 0x100000,
		}, {
			desc:  "below max address",
			kind:  uefi.AllocateMaxAddress,
			pages: 1,
			addr:  ramStart + 0x1fffff,
			want:  ramStart + 0x1ff000,
		}, {
			desc:    "unaligned address",
			kind:    uefi.AllocateAddress,
			pages:   1,
			addr:    ramStart + 1,
			wantErr: uefi.InvalidParameter,
		}, {
			desc:    "outside RAM",
			kind:    uefi.AllocateAddress,
			pages:   1,
			addr:    0x1000,
			wantErr: uefi.NotFound,
		}, {
			desc:    "too large",
			kind:    uefi.AllocateAnyPages,
			pages:   ramSize / uefi.PageSize,
			wantErr: uefi.NotFound,
		}, {
			desc:    "zero pages",
			kind:    uefi.AllocateAnyPages,
			wantErr: uefi.InvalidParameter,
		}, {
			desc:    "range wraps the address space",
			kind:    uefi.AllocateAddress,
			pages:   2,
			addr:    0xfffffffffffff000,
			wantErr: uefi.InvalidParameter,
		}, {
			desc:    "page count overflows",
			kind:    uefi.AllocateAnyPages,
			pages:   1 << 60,
			wantErr: uefi.InvalidParameter,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFirmware(t, 0)
			before := f.MemoryMap()
			got, err := f.AllocatePages(test.kind, uefi.LoaderData, test.pages, test.addr)
			if test.wantErr != uefi.Success {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("AllocatePages: %v, want %v", err, test.wantErr)
				}
				if diff := cmp.Diff(before, f.MemoryMap()); diff != "" {
					t.Errorf("failed AllocatePages changed the map (-before +after):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocatePages: %v", err)
			}
			if got != test.want {
				t.Errorf("AllocatePages = %#x, want %#x", got, test.want)
			}
		})
	}
}

func TestAllocateTwiceAtSameAddress(t *testing.T) {
	f := newFirmware(t, 0)
	if _, err := f.AllocatePages(uefi.AllocateAddress, uefi.LoaderData, 2, ramStart); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	if _, err := f.AllocatePages(uefi.AllocateAddress, uefi.LoaderData, 1, ramStart+uefi.PageSize); !errors.Is(err, uefi.NotFound) {
		t.Errorf("overlapping AllocatePages: %v, want %v", err, uefi.NotFound)
	}
}

func TestFreePagesRestoresMap(t *testing.T) {
	f := newFirmware(t, 0)
	before := f.MemoryMap()
	addr, err := f.AllocatePages(uefi.AllocateAddress, uefi.LoaderData, 3, ramStart+0x10000)
	if err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	if err := f.FreePages(addr, 2); !errors.Is(err, uefi.NotFound) {
		t.Errorf("FreePages with wrong count: %v, want %v", err, uefi.NotFound)
	}
	if err := f.FreePages(addr, 3); err != nil {
		t.Fatalf("FreePages: %v", err)
	}
	if diff := cmp.Diff(before, f.MemoryMap()); diff != "" {
		t.Errorf("map after free differs (-before +after):\n%s", diff)
	}
}

func TestBytes(t *testing.T) {
	f := newFirmware(t, 0)
	addr, err := f.AllocatePages(uefi.AllocateAddress, uefi.LoaderCode, 2, ramStart)
	if err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	b, err := f.Bytes(addr+0x10, 0x20)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	copy(b, "hello")
	again, err := f.Bytes(addr, 0x40)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(again[0x10:0x15], []byte("hello")) {
		t.Errorf("write through Bytes not visible: %q", again[0x10:0x15])
	}

	for _, test := range []struct {
		desc       string
		addr, size uint64
	}{
		{desc: "free memory", addr: ramStart + 0x100000, size: 1},
		{desc: "crosses region end", addr: addr + uefi.PageSize, size: 2 * uefi.PageSize},
		{desc: "outside RAM", addr: 0x10, size: 1},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if _, err := f.Bytes(test.addr, test.size); err == nil {
				t.Errorf("Bytes(%#x, %#x) succeeded", test.addr, test.size)
			}
		})
	}
}

func TestPool(t *testing.T) {
	f := newFirmware(t, 0)
	p, err := f.AllocatePool(uefi.LoaderData, 100)
	if err != nil {
		t.Fatalf("AllocatePool: %v", err)
	}
	if _, err := f.Bytes(p, 100); err != nil {
		t.Errorf("Bytes(pool): %v", err)
	}
	if err := f.FreePool(p); err != nil {
		t.Errorf("FreePool: %v", err)
	}
	if err := f.FreePool(p); !errors.Is(err, uefi.InvalidParameter) {
		t.Errorf("second FreePool: %v, want %v", err, uefi.InvalidParameter)
	}
	if _, err := f.AllocatePool(uefi.LoaderData, 0); !errors.Is(err, uefi.InvalidParameter) {
		t.Errorf("AllocatePool(0): %v, want %v", err, uefi.InvalidParameter)
	}
}

func TestMapKeyChangesOnAllocation(t *testing.T) {
	f := newFirmware(t, 0)
	k1 := memoryMap(t, f).Key
	if _, err := f.AllocatePages(uefi.AllocateAnyPages, uefi.LoaderData, 1, 0); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	if k2 := memoryMap(t, f).Key; k2 == k1 {
		t.Errorf("map key %d unchanged after allocation", k2)
	}
}

func TestExitBootServices(t *testing.T) {
	for _, test := range []struct {
		desc      string
		staleKeys int
		wantFails int
	}{
		{desc: "fresh key"},
		{desc: "one stale key", staleKeys: 1, wantFails: 1},
		{desc: "three stale keys", staleKeys: 3, wantFails: 3},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFirmware(t, test.staleKeys)
			fails := 0
			for {
				key := memoryMap(t, f).Key
				err := f.ExitBootServices(f.Image(), key)
				if err == nil {
					break
				}
				if !errors.Is(err, uefi.InvalidParameter) {
					t.Fatalf("ExitBootServices: %v", err)
				}
				if fails++; fails > test.staleKeys {
					t.Fatalf("ExitBootServices kept failing: %v", err)
				}
			}
			if fails != test.wantFails {
				t.Errorf("got %d stale key failures, want %d", fails, test.wantFails)
			}
			if !f.Exited() {
				t.Error("Exited() = false after successful exit")
			}
		})
	}
}

func TestExitWithWrongImage(t *testing.T) {
	f := newFirmware(t, 0)
	other := f.NewHandle()
	if err := f.ExitBootServices(other, memoryMap(t, f).Key); !errors.Is(err, uefi.InvalidParameter) {
		t.Errorf("ExitBootServices(other image): %v, want %v", err, uefi.InvalidParameter)
	}
	if f.Exited() {
		t.Error("Exited() = true after failed exit")
	}
}

func TestServicesAfterExitAreViolations(t *testing.T) {
	f := newFirmware(t, 0)
	if err := f.ExitBootServices(f.Image(), memoryMap(t, f).Key); err != nil {
		t.Fatalf("ExitBootServices: %v", err)
	}

	calls := []func() error{
		func() error { _, err := f.AllocatePages(uefi.AllocateAnyPages, uefi.LoaderData, 1, 0); return err },
		func() error { _, err := f.AllocatePool(uefi.LoaderData, 1); return err },
		func() error { _, err := f.GetMemoryMap(nil); return err },
		func() error { return f.Stall(1) },
		func() error { _, err := f.LocateHandleBuffer(uefi.AllHandlesSearch, nil, 0); return err },
		func() error { return f.ExitBootServices(f.Image(), 0) },
	}
	for i, c := range calls {
		if err := c(); !errors.Is(err, uefi.Unsupported) {
			t.Errorf("call %d after exit: %v, want %v", i, err, uefi.Unsupported)
		}
	}
	if got, want := f.Violations(), len(calls); got != want {
		t.Errorf("Violations() = %d, want %d", got, want)
	}
}

func TestInstallDeviceTree(t *testing.T) {
	blob, err := emufw.MinimalDeviceTree("oso,test")
	if err != nil {
		t.Fatalf("MinimalDeviceTree: %v", err)
	}

	for _, test := range []struct {
		desc     string
		bootargs string
	}{
		{desc: "as is"},
		{desc: "with bootargs", bootargs: "console=ttyS0 quiet"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFirmware(t, 0)
			addr, err := f.InstallDeviceTree(blob, test.bootargs)
			if err != nil {
				t.Fatalf("InstallDeviceTree: %v", err)
			}
			got, ok := uefi.FindConfigTable(f.SystemTable().ConfigTables, uefi.DeviceTreeTableGUID)
			if !ok || got != addr {
				t.Fatalf("device tree table = %#x, %v, want %#x", got, ok, addr)
			}

			b, err := f.Bytes(addr, uefi.PageSize)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			fdt, err := dt.ReadFDT(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("ReadFDT: %v", err)
			}
			var bootargs string
			for _, n := range fdt.RootNode.Children {
				if n.Name != "chosen" {
					continue
				}
				for _, p := range n.Properties {
					if p.Name == "bootargs" {
						bootargs = string(bytes.TrimRight(p.Value, "\x00"))
					}
				}
			}
			if bootargs != test.bootargs {
				t.Errorf("bootargs = %q, want %q", bootargs, test.bootargs)
			}
		})
	}
}

func TestInstallDeviceTreeRejectsGarbage(t *testing.T) {
	f := newFirmware(t, 0)
	if _, err := f.InstallDeviceTree([]byte("not a device tree"), "quiet"); err == nil {
		t.Error("InstallDeviceTree(garbage) succeeded")
	}
}

func TestFileSystemHandles(t *testing.T) {
	f := newFirmware(t, 0)
	kernel := []byte("kernel bytes")
	h := f.InstallFileSystem(fstest.MapFS{"oso_kernel.elf": {Data: kernel}})

	got, err := uefi.LocateHandlesFor[uefi.SimpleFileSystem](f)
	if err != nil {
		t.Fatalf("LocateHandlesFor: %v", err)
	}
	if diff := cmp.Diff([]uefi.Handle{h}, got, cmp.Comparer(func(a, b uefi.Handle) bool { return a == b })); diff != "" {
		t.Errorf("file system handles differ (-want +got):\n%s", diff)
	}

	i, err := uefi.Open[uefi.SimpleFileSystem](f, h, f.Image(), uefi.Handle{}, uefi.AttrExclusive)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fsys, err := f.Mount(i)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	b, err := fsys.Open("oso_kernel.elf")
	if err != nil {
		t.Fatalf("Open(kernel): %v", err)
	}
	b.Close()
	if err := i.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := f.Mount(i); err == nil {
		t.Error("Mount on a closed interface succeeded")
	}
	if n := f.OpenCount(); n != 0 {
		t.Errorf("OpenCount() = %d after close", n)
	}
}

func TestOpenProtocol(t *testing.T) {
	f := newFirmware(t, 0)
	h := f.InstallFileSystem(fstest.MapFS{})
	agent := f.NewHandle()
	unknown, err := uefi.NewHandle(0xdead0)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	if _, err := f.OpenProtocol(h, uefi.SimpleFileSystemProtocolGUID, f.Image(), uefi.Handle{}, uefi.AttrExclusive); err != nil {
		t.Fatalf("OpenProtocol: %v", err)
	}

	for _, test := range []struct {
		desc    string
		target  uefi.Handle
		g       uefi.GUID
		agent   uefi.Handle
		attrs   uefi.OpenAttributes
		wantErr uefi.Status
	}{
		{
			desc:    "same agent again",
			target:  h,
			g:       uefi.SimpleFileSystemProtocolGUID,
			agent:   f.Image(),
			attrs:   uefi.AttrExclusive,
			wantErr: uefi.AlreadyStarted,
		}, {
			desc:    "other agent",
			target:  h,
			g:       uefi.SimpleFileSystemProtocolGUID,
			agent:   agent,
			attrs:   uefi.AttrExclusive,
			wantErr: uefi.AccessDenied,
		}, {
			desc:    "absent protocol",
			target:  h,
			g:       uefi.GraphicsOutputProtocolGUID,
			agent:   agent,
			attrs:   uefi.AttrByHandleProtocol,
			wantErr: uefi.Unsupported,
		}, {
			desc:    "unknown handle",
			target:  unknown,
			g:       uefi.SimpleFileSystemProtocolGUID,
			agent:   agent,
			attrs:   uefi.AttrByHandleProtocol,
			wantErr: uefi.InvalidParameter,
		}, {
			desc:   "shared get",
			target: h,
			g:      uefi.SimpleFileSystemProtocolGUID,
			agent:  agent,
			attrs:  uefi.AttrGetProtocol,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			_, err := f.OpenProtocol(test.target, test.g, test.agent, uefi.Handle{}, test.attrs)
			if test.wantErr == uefi.Success {
				if err != nil {
					t.Errorf("OpenProtocol: %v", err)
				}
				return
			}
			if !errors.Is(err, test.wantErr) {
				t.Errorf("OpenProtocol: %v, want %v", err, test.wantErr)
			}
		})
	}

	if n := f.OpenCount(); n != 1 {
		t.Errorf("OpenCount() = %d, want 1", n)
	}
	if err := f.CloseProtocol(h, uefi.SimpleFileSystemProtocolGUID, agent, uefi.Handle{}); !errors.Is(err, uefi.NotFound) {
		t.Errorf("CloseProtocol by non-owner: %v, want %v", err, uefi.NotFound)
	}
	if err := f.CloseProtocol(h, uefi.SimpleFileSystemProtocolGUID, f.Image(), uefi.Handle{}); err != nil {
		t.Errorf("CloseProtocol: %v", err)
	}
	if got, want := f.Stats().Closes, 1; got != want {
		t.Errorf("Closes = %d, want %d", got, want)
	}
}

func TestLocateAndConnect(t *testing.T) {
	f := newFirmware(t, 0)
	f.InstallFileSystem(fstest.MapFS{})
	f.InstallFileSystem(fstest.MapFS{})

	all, err := uefi.LocateHandles(f, uefi.AllHandles())
	if err != nil {
		t.Fatalf("LocateHandles: %v", err)
	}
	// The image handle and two volumes.
	if len(all) != 3 {
		t.Errorf("got %d handles, want 3", len(all))
	}
	if _, err := uefi.LocateHandles(f, uefi.ByRegisterNotify(1)); !errors.Is(err, uefi.InvalidParameter) {
		t.Errorf("ByRegisterNotify: %v, want %v", err, uefi.InvalidParameter)
	}
	if _, err := uefi.LocateHandles(f, uefi.ByProtocol(uefi.GraphicsOutputProtocolGUID)); !errors.Is(err, uefi.NotFound) {
		t.Errorf("ByProtocol(absent): %v, want %v", err, uefi.NotFound)
	}

	n, err := uefi.ConnectAll(f)
	if err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if n != 2 {
		t.Errorf("ConnectAll connected %d handles, want 2", n)
	}
	if got := f.Stats().Connects; got != 2 {
		t.Errorf("Connects = %d, want 2", got)
	}
}
