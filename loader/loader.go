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

// Package loader hands a UEFI machine over to an ELF kernel.
//
// The handoff loads the kernel segments, finds the device tree in the
// firmware configuration tables, exits boot services and jumps to the
// kernel entry point with the device tree address as its only argument.
package loader

import (
	"bytes"
	"crypto/sha256"
	goelf "debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/elf"
	"github.com/oso-os/oso-loader/uefi"
	"github.com/u-root/u-root/pkg/dt"
)

var (
	// ErrDeviceTreeMissing is returned when firmware publishes no device
	// tree configuration table.
	ErrDeviceTreeMissing = errors.New("device tree missing")
	// ErrNoLoadSegments is returned for a kernel without PT_LOAD segments.
	ErrNoLoadSegments = errors.New("kernel has no loadable segments")
	// ErrKernelHash is returned when the kernel does not match the
	// configured digest.
	ErrKernelHash = errors.New("kernel hash mismatch")
	// ErrNoJump is returned when there is no way to enter the kernel on
	// this build.
	ErrNoJump = errors.New("no kernel entry trampoline for this platform")
)

// DefaultExitAttempts bounds how often the memory map is re-read when
// firmware reports a stale map key.
const DefaultExitAttempts = 4

// maxDeviceTreeSize bounds the blob size read from the FDT header.
const maxDeviceTreeSize = 64 << 20

// EntryAddress is the kernel entry point.
type EntryAddress uint64

// DeviceTreeAddress is the physical address of the flattened device tree.
type DeviceTreeAddress uint64

// JumpFunc enters the kernel. [head, tail) is the memory the kernel was
// loaded to. It does not return on real hardware.
type JumpFunc func(entry EntryAddress, dtb DeviceTreeAddress, head, tail uint64)

// SegmentError reports a PT_LOAD segment which cannot be loaded.
type SegmentError struct {
	Index  int
	Header elf.ProgramHeader
	Reason string
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d (vaddr %#x): %s", e.Index, e.Header.VirtualAddress, e.Reason)
}

// Opts configures a Loader.
type Opts struct {
	Boot         uefi.BootServices
	Image        uefi.Handle
	ConfigTables []uefi.ConfigTable
	Memory       uefi.PhysicalMemory
	Kernel       KernelSource

	// KernelHash is the expected SHA-256 of the kernel image, if any.
	KernelHash []byte
	// VerifyDeviceTree makes the loader check the FDT header before
	// handing the device tree over.
	VerifyDeviceTree bool
	// Machine is the ELF machine the kernel must be built for. It
	// defaults to the machine this loader runs on.
	Machine goelf.Machine
	// ExitAttempts defaults to DefaultExitAttempts.
	ExitAttempts int
	// Jump defaults to the architecture trampoline, where there is one.
	Jump JumpFunc
}

// Loader runs the handoff. It is not safe for concurrent use.
type Loader struct {
	boot   *uefi.Guarded
	image  uefi.Handle
	tables []uefi.ConfigTable
	mem    uefi.PhysicalMemory
	kernel KernelSource

	kernelHash   []byte
	verifyDTB    bool
	machine      goelf.Machine
	exitAttempts int
	jump         JumpFunc

	state      State
	entry      EntryAddress
	dtb        DeviceTreeAddress
	head, tail uint64
	memoryMap  *uefi.MemoryMap
}

var nativeMachine = map[string]goelf.Machine{
	"amd64": goelf.EM_X86_64,
	"arm64": goelf.EM_AARCH64,
}

// New returns a Loader in the FirmwareActive state.
//
// All boot services go through a guard which refuses further calls once
// ExitBootServices has succeeded.
func New(o Opts) *Loader {
	l := &Loader{
		boot:         uefi.Guard(o.Boot),
		image:        o.Image,
		tables:       o.ConfigTables,
		mem:          o.Memory,
		kernel:       o.Kernel,
		kernelHash:   o.KernelHash,
		verifyDTB:    o.VerifyDeviceTree,
		machine:      o.Machine,
		exitAttempts: o.ExitAttempts,
		jump:         o.Jump,
	}
	if l.machine == goelf.EM_NONE {
		l.machine = nativeMachine[runtime.GOARCH]
	}
	if l.exitAttempts <= 0 {
		l.exitAttempts = DefaultExitAttempts
	}
	if l.jump == nil {
		l.jump = defaultJump
	}
	return l
}

// FromFirmware returns a Loader for the image and system table recorded
// by uefi.Init.
func FromFirmware(mem uefi.PhysicalMemory, kernel KernelSource, o Opts) (*Loader, error) {
	image, err := uefi.ImageHandle()
	if err != nil {
		return nil, err
	}
	st, err := uefi.System()
	if err != nil {
		return nil, err
	}
	o.Boot = st.Boot
	o.Image = image
	o.ConfigTables = st.ConfigTables
	o.Memory = mem
	o.Kernel = kernel
	return New(o), nil
}

// State returns the current handoff state.
func (l *Loader) State() State {
	return l.state
}

// BootServices returns the guarded boot services used by the loader.
func (l *Loader) BootServices() *uefi.Guarded {
	return l.boot
}

// MemoryMap returns the memory map passed to ExitBootServices.
func (l *Loader) MemoryMap() *uefi.MemoryMap {
	return l.memoryMap
}

func (l *Loader) expect(s State) error {
	if l.state != s {
		return &StateError{Current: l.state, Want: s}
	}
	return nil
}

func (l *Loader) advance(to State) {
	glog.V(1).Infof("Handoff %v -> %v", l.state, to)
	l.state = to
}

// LoadKernel copies the PT_LOAD segments of the kernel to the addresses
// they are linked at and returns its entry point.
func (l *Loader) LoadKernel() (EntryAddress, error) {
	if err := l.expect(FirmwareActive); err != nil {
		return 0, err
	}
	img, err := l.kernel.ReadKernel()
	if err != nil {
		return 0, fmt.Errorf("failed to read kernel: %w", err)
	}
	if len(l.kernelHash) > 0 {
		h := sha256.Sum256(img)
		if !bytes.Equal(h[:], l.kernelHash) {
			return 0, fmt.Errorf("%w: got %x, want %x", ErrKernelHash, h, l.kernelHash)
		}
		glog.V(1).Infof("Kernel hash %x verified", h)
	}

	f, err := elf.Parse(img)
	if err != nil {
		return 0, fmt.Errorf("failed to parse kernel: %w", err)
	}
	if f.Header.Machine != l.machine {
		return 0, fmt.Errorf("kernel is built for %v, want %v", f.Header.Machine, l.machine)
	}
	for i, p := range f.Progs {
		if p.Type == elf.Load && p.VirtualAddress+p.MemorySize < p.VirtualAddress {
			return 0, &SegmentError{Index: i, Header: p, Reason: fmt.Sprintf("memory size %#x wraps the address space", p.MemorySize)}
		}
	}
	head, tail, ok := f.LoadRange()
	if !ok {
		return 0, ErrNoLoadSegments
	}

	base := head &^ (uefi.PageSize - 1)
	pages := uefi.Pages(tail - base)
	if _, err := l.boot.AllocatePages(uefi.AllocateAddress, uefi.LoaderData, pages, base); err != nil {
		return 0, fmt.Errorf("failed to reserve kernel memory: %w", err)
	}
	glog.Infof("Reserved %d pages at %#x for kernel [%#x, %#x)", pages, base, head, tail)

	if err := l.copySegments(f, img); err != nil {
		if ferr := l.boot.FreePages(base, pages); ferr != nil {
			glog.Warningf("FreePages(%#x, %d): %v", base, pages, ferr)
		}
		return 0, err
	}

	l.entry = EntryAddress(f.Header.Entry)
	l.head, l.tail = head, tail
	l.advance(KernelLoaded)
	return l.entry, nil
}

func (l *Loader) copySegments(f *elf.File, img []byte) error {
	for i, p := range f.Progs {
		if p.Type != elf.Load {
			continue
		}
		if p.FileSize > p.MemorySize {
			return &SegmentError{Index: i, Header: p, Reason: fmt.Sprintf("file size %#x exceeds memory size %#x", p.FileSize, p.MemorySize)}
		}
		if p.Offset > uint64(len(img)) || p.FileSize > uint64(len(img))-p.Offset {
			return &SegmentError{Index: i, Header: p, Reason: fmt.Sprintf("file bytes [%#x, %#x) exceed image of %#x bytes", p.Offset, p.Offset+p.FileSize, len(img))}
		}
		if p.MemorySize == 0 {
			continue
		}
		dst, err := l.mem.Bytes(p.VirtualAddress, p.MemorySize)
		if err != nil {
			return &SegmentError{Index: i, Header: p, Reason: err.Error()}
		}
		n := copy(dst, img[p.Offset:p.Offset+p.FileSize])
		clear(dst[n:])
		glog.V(1).Infof("Segment %d: %v [%v] %#x bytes at %#x, %#x zeroed", i, p.Type, p.Flags, n, p.VirtualAddress, len(dst)-n)
	}
	return nil
}

// ObtainDeviceTree finds the device tree blob published by firmware.
func (l *Loader) ObtainDeviceTree() (DeviceTreeAddress, error) {
	if err := l.expect(KernelLoaded); err != nil {
		return 0, err
	}
	addr, ok := uefi.FindConfigTable(l.tables, uefi.DeviceTreeTableGUID)
	if !ok || addr == 0 {
		return 0, ErrDeviceTreeMissing
	}
	if l.verifyDTB {
		if err := l.checkDeviceTree(addr); err != nil {
			return 0, fmt.Errorf("device tree at %#x: %w", addr, err)
		}
	}
	glog.Infof("Device tree at %#x", addr)
	l.dtb = DeviceTreeAddress(addr)
	l.advance(DeviceTreeObtained)
	return l.dtb, nil
}

func (l *Loader) checkDeviceTree(addr uint64) error {
	hdr, err := l.mem.Bytes(addr, 8)
	if err != nil {
		return err
	}
	size := uint64(binary.BigEndian.Uint32(hdr[4:]))
	if size < 8 || size > maxDeviceTreeSize {
		return fmt.Errorf("implausible size %d", size)
	}
	blob, err := l.mem.Bytes(addr, size)
	if err != nil {
		return err
	}
	fdt, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return err
	}
	glog.V(1).Infof("Device tree version %d, %d bytes", fdt.Header.Version, fdt.Header.TotalSize)
	return nil
}

// ExitBootServices snapshots the memory map and terminates boot services
// with its key.
//
// A stale key makes firmware return EFI_INVALID_PARAMETER, in which case
// the map is read again and the exit retried, up to the configured number
// of attempts. Once this returns successfully no boot service can be
// called through the loader.
func (l *Loader) ExitBootServices() (*uefi.MemoryMap, error) {
	if err := l.expect(DeviceTreeObtained); err != nil {
		return nil, err
	}

	var buf []byte
	var pool, poolSize uint64
	attempt := 0
	op := func() error {
		attempt++
		info, err := l.boot.GetMemoryMap(buf)
		if errors.Is(err, uefi.BufferTooSmall) {
			// Only GetMemoryMap and ExitBootServices are allowed after a
			// failed exit.
			if attempt > 1 {
				return backoff.Permanent(fmt.Errorf("memory map outgrew its buffer after a failed exit: %w", err))
			}
			poolSize = uefi.MemoryMapBufferSize(info)
			if pool, err = l.boot.AllocatePool(uefi.LoaderData, poolSize); err != nil {
				return backoff.Permanent(err)
			}
			if buf, err = l.mem.Bytes(pool, poolSize); err != nil {
				return backoff.Permanent(err)
			}
			info, err = l.boot.GetMemoryMap(buf)
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		m, err := uefi.DecodeMemoryMap(buf, info)
		if err != nil {
			return backoff.Permanent(err)
		}

		err = l.boot.ExitBootServices(l.image, info.MapKey)
		if errors.Is(err, uefi.InvalidParameter) {
			glog.Warningf("Memory map key %d is stale (attempt %d)", info.MapKey, attempt)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		l.memoryMap = m
		return nil
	}

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(l.exitAttempts-1))
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("failed to exit boot services after %d attempts: %w", attempt, err)
	}
	l.advance(BootServicesExited)
	return l.memoryMap, nil
}

// Exec tears down the loader environment and enters the kernel. It only
// returns if the jump is emulated.
func (l *Loader) Exec(entry EntryAddress, dtb DeviceTreeAddress) error {
	if err := l.expect(BootServicesExited); err != nil {
		return err
	}
	if l.jump == nil {
		return ErrNoJump
	}
	l.advance(KernelExecuting)
	l.jump(entry, dtb, l.head, l.tail)
	return nil
}

// Boot runs the whole handoff. It returns an error if any step before the
// kernel takes over fails.
func (l *Loader) Boot() error {
	// No step may fail once boot services are gone.
	if l.jump == nil {
		return ErrNoJump
	}
	entry, err := l.LoadKernel()
	if err != nil {
		return err
	}
	dtb, err := l.ObtainDeviceTree()
	if err != nil {
		return err
	}
	if _, err := l.ExitBootServices(); err != nil {
		return err
	}
	return l.Exec(entry, dtb)
}
