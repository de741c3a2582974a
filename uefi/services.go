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

//go:generate mockgen -destination mock_uefi/mock_uefi.go -package mock_uefi github.com/oso-os/oso-loader/uefi BootServices

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

// ErrBootServicesExited is returned for any boot service requested after
// ExitBootServices has succeeded.
var ErrBootServicesExited = errors.New("boot services have been exited")

// SearchType selects which handles LocateHandleBuffer returns.
type SearchType uint32

const (
	AllHandlesSearch SearchType = iota
	ByRegisterNotifySearch
	ByProtocolSearch
)

// SearchKey is the registration returned by RegisterProtocolNotify.
type SearchKey uintptr

// OpenAttributes is the attribute mask passed to OpenProtocol.
type OpenAttributes uint32

const (
	AttrByHandleProtocol  OpenAttributes = 0x01
	AttrGetProtocol       OpenAttributes = 0x02
	AttrTestProtocol      OpenAttributes = 0x04
	AttrByChildController OpenAttributes = 0x08
	AttrByDriver          OpenAttributes = 0x10
	// AttrExclusive makes firmware disconnect any driver currently
	// managing the protocol before handing it over.
	AttrExclusive OpenAttributes = 0x20
)

// BootServices is the subset of EFI_BOOT_SERVICES used by the loader.
//
// Each method issues exactly one firmware call. Failures are returned as
// *StatusError. None of the methods may be called once ExitBootServices has
// succeeded.
type BootServices interface {
	// LocateHandleBuffer returns the handles matching the search. The
	// result is a copy; firmware's buffer has already been released.
	LocateHandleBuffer(search SearchType, protocol *GUID, key SearchKey) ([]Handle, error)
	// OpenProtocol returns the interface pointer of protocol on target.
	OpenProtocol(target Handle, protocol GUID, agent, controller Handle, attrs OpenAttributes) (uintptr, error)
	CloseProtocol(target Handle, protocol GUID, agent, controller Handle) error
	ConnectController(controller, driverImage Handle, recursive bool) error

	AllocatePages(kind AllocateType, mem MemoryType, pages, addr uint64) (uint64, error)
	FreePages(addr, pages uint64) error
	AllocatePool(mem MemoryType, size uint64) (uint64, error)
	FreePool(addr uint64) error
	// GetMemoryMap fills buf with memory descriptors. If buf is too small
	// the returned info still carries the required MapSize and
	// DescriptorSize along with a BufferTooSmall error.
	GetMemoryMap(buf []byte) (MemoryMapInfo, error)
	ExitBootServices(image Handle, mapKey uint64) error

	Stall(microseconds uint64) error
}

// Guarded forwards to a BootServices until ExitBootServices succeeds
// through it. From then on every call fails with ErrBootServicesExited and
// never reaches firmware.
type Guarded struct {
	mu     sync.Mutex
	bs     BootServices
	exited bool
}

var _ BootServices = &Guarded{}

// Guard wraps bs.
func Guard(bs BootServices) *Guarded {
	return &Guarded{bs: bs}
}

// Exited reports whether ExitBootServices has succeeded.
func (g *Guarded) Exited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exited
}

func (g *Guarded) live(op string) (BootServices, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.exited {
		glog.Errorf("%s requested after ExitBootServices", op)
		return nil, ErrBootServicesExited
	}
	return g.bs, nil
}

func (g *Guarded) LocateHandleBuffer(search SearchType, protocol *GUID, key SearchKey) ([]Handle, error) {
	bs, err := g.live("LocateHandleBuffer")
	if err != nil {
		return nil, err
	}
	return bs.LocateHandleBuffer(search, protocol, key)
}

func (g *Guarded) OpenProtocol(target Handle, protocol GUID, agent, controller Handle, attrs OpenAttributes) (uintptr, error) {
	bs, err := g.live("OpenProtocol")
	if err != nil {
		return 0, err
	}
	return bs.OpenProtocol(target, protocol, agent, controller, attrs)
}

func (g *Guarded) CloseProtocol(target Handle, protocol GUID, agent, controller Handle) error {
	bs, err := g.live("CloseProtocol")
	if err != nil {
		return err
	}
	return bs.CloseProtocol(target, protocol, agent, controller)
}

func (g *Guarded) ConnectController(controller, driverImage Handle, recursive bool) error {
	bs, err := g.live("ConnectController")
	if err != nil {
		return err
	}
	return bs.ConnectController(controller, driverImage, recursive)
}

func (g *Guarded) AllocatePages(kind AllocateType, mem MemoryType, pages, addr uint64) (uint64, error) {
	bs, err := g.live("AllocatePages")
	if err != nil {
		return 0, err
	}
	return bs.AllocatePages(kind, mem, pages, addr)
}

func (g *Guarded) FreePages(addr, pages uint64) error {
	bs, err := g.live("FreePages")
	if err != nil {
		return err
	}
	return bs.FreePages(addr, pages)
}

func (g *Guarded) AllocatePool(mem MemoryType, size uint64) (uint64, error) {
	bs, err := g.live("AllocatePool")
	if err != nil {
		return 0, err
	}
	return bs.AllocatePool(mem, size)
}

func (g *Guarded) FreePool(addr uint64) error {
	bs, err := g.live("FreePool")
	if err != nil {
		return err
	}
	return bs.FreePool(addr)
}

func (g *Guarded) GetMemoryMap(buf []byte) (MemoryMapInfo, error) {
	bs, err := g.live("GetMemoryMap")
	if err != nil {
		return MemoryMapInfo{}, err
	}
	return bs.GetMemoryMap(buf)
}

// ExitBootServices forwards the call and, on success, closes the guard.
func (g *Guarded) ExitBootServices(image Handle, mapKey uint64) error {
	bs, err := g.live("ExitBootServices")
	if err != nil {
		return err
	}
	if err := bs.ExitBootServices(image, mapKey); err != nil {
		return err
	}
	g.mu.Lock()
	g.exited = true
	g.mu.Unlock()
	return nil
}

func (g *Guarded) Stall(microseconds uint64) error {
	bs, err := g.live("Stall")
	if err != nil {
		return err
	}
	return bs.Stall(microseconds)
}
