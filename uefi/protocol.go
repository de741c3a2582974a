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
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// Protocol is implemented by the marker types naming a firmware protocol.
// The zero value must report the protocol GUID.
type Protocol interface {
	GUID() GUID
}

// SimpleFileSystem is EFI_SIMPLE_FILE_SYSTEM_PROTOCOL.
type SimpleFileSystem struct{}

func (SimpleFileSystem) GUID() GUID { return SimpleFileSystemProtocolGUID }

// LoadedImage is EFI_LOADED_IMAGE_PROTOCOL.
type LoadedImage struct{}

func (LoadedImage) GUID() GUID { return LoadedImageProtocolGUID }

// DevicePath is EFI_DEVICE_PATH_PROTOCOL.
type DevicePath struct{}

func (DevicePath) GUID() GUID { return DevicePathProtocolGUID }

// GraphicsOutput is EFI_GRAPHICS_OUTPUT_PROTOCOL.
type GraphicsOutput struct{}

func (GraphicsOutput) GUID() GUID { return GraphicsOutputProtocolGUID }

func protocolGUID[P Protocol]() GUID {
	var p P
	return p.GUID()
}

// ProtocolErrorKind classifies why a protocol could not be opened.
type ProtocolErrorKind int

const (
	// Other is any failure not listed below.
	Other ProtocolErrorKind = iota
	// ProtocolAbsent means the handle does not support the protocol.
	ProtocolAbsent
	// AlreadyOwned means another agent holds the protocol exclusively.
	AlreadyOwned
	// InvalidHandle means firmware rejected one of the handles.
	InvalidHandle
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolAbsent:
		return "protocol absent"
	case AlreadyOwned:
		return "already owned"
	case InvalidHandle:
		return "invalid handle"
	}
	return "other"
}

// ProtocolError is returned when a protocol cannot be opened.
type ProtocolError struct {
	Kind     ProtocolErrorKind
	Protocol GUID
	Target   Handle
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("open %v on %v: %v: %v", e.Protocol, e.Target, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func classifyOpenError(err error) ProtocolErrorKind {
	s, ok := StatusOf(err)
	if !ok {
		return Other
	}
	switch s {
	case Unsupported:
		return ProtocolAbsent
	case AccessDenied, AlreadyStarted:
		return AlreadyOwned
	case InvalidParameter:
		return InvalidHandle
	}
	return Other
}

// Interface is an opened protocol P on a handle.
//
// It must only be used by pointer. Close releases the protocol and is safe
// to call more than once; an Interface whose open failed has nothing to
// release.
type Interface[P Protocol] struct {
	bs  BootServices
	ptr uintptr

	Target Handle
	Agent  Handle
	// Controller is the zero Handle unless opened on behalf of a driver.
	Controller Handle

	closed bool
}

// Pointer returns the protocol interface pointer, if the open succeeded
// and Close has not been called.
func (i *Interface[P]) Pointer() (uintptr, bool) {
	if i.ptr == 0 || i.closed {
		return 0, false
	}
	return i.ptr, true
}

// Close issues CloseProtocol for a successful open, exactly once.
func (i *Interface[P]) Close() error {
	if i.ptr == 0 || i.closed {
		return nil
	}
	i.closed = true
	g := protocolGUID[P]()
	if err := i.bs.CloseProtocol(i.Target, g, i.Agent, i.Controller); err != nil {
		glog.Warningf("CloseProtocol(%v) on %v failed: %v", g, i.Target, err)
		return err
	}
	return nil
}

// Open opens protocol P on target.
//
// The returned Interface is never nil, even when err is not, so the caller
// can defer Close unconditionally.
func Open[P Protocol](bs BootServices, target, agent, controller Handle, attrs OpenAttributes) (*Interface[P], error) {
	i := &Interface[P]{
		bs:         bs,
		Target:     target,
		Agent:      agent,
		Controller: controller,
	}
	g := protocolGUID[P]()
	if target.IsNull() {
		return i, &ProtocolError{Kind: InvalidHandle, Protocol: g, Target: target, Err: ErrNullHandle}
	}
	ptr, err := bs.OpenProtocol(target, g, agent, controller, attrs)
	if err != nil {
		return i, &ProtocolError{Kind: classifyOpenError(err), Protocol: g, Target: target, Err: err}
	}
	if ptr == 0 {
		return i, &ProtocolError{Kind: ProtocolAbsent, Protocol: g, Target: target, Err: errors.New("null interface")}
	}
	i.ptr = ptr
	return i, nil
}

// OpenExclusive opens P on target on behalf of the loader image, forcing
// firmware to disconnect any driver that currently manages it.
func OpenExclusive[P Protocol](bs BootServices, target Handle) (*Interface[P], error) {
	image, err := ImageHandle()
	if err != nil {
		return &Interface[P]{bs: bs, Target: target}, err
	}
	return Open[P](bs, target, image, Handle{}, AttrExclusive)
}

// With opens P exclusively on target, calls fn and closes the protocol
// again on every exit path.
func With[P Protocol](bs BootServices, target Handle, fn func(*Interface[P]) error) (err error) {
	i, err := OpenExclusive[P](bs, target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := i.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(i)
}

// Search selects the handles returned by LocateHandles.
type Search struct {
	Type     SearchType
	Protocol GUID
	Key      SearchKey
}

// AllHandles matches every handle in the handle database.
func AllHandles() Search {
	return Search{Type: AllHandlesSearch}
}

// ByRegisterNotify matches the next handle with a pending registration.
func ByRegisterNotify(key SearchKey) Search {
	return Search{Type: ByRegisterNotifySearch, Key: key}
}

// ByProtocol matches the handles supporting the protocol g.
func ByProtocol(g GUID) Search {
	return Search{Type: ByProtocolSearch, Protocol: g}
}

// LocateHandles returns the handles matching s.
func LocateHandles(bs BootServices, s Search) ([]Handle, error) {
	var g *GUID
	if s.Type == ByProtocolSearch {
		g = &s.Protocol
	}
	h, err := bs.LocateHandleBuffer(s.Type, g, s.Key)
	if err != nil {
		return nil, fmt.Errorf("locate handles: %w", err)
	}
	glog.V(2).Infof("LocateHandleBuffer(%d) returned %d handles", s.Type, len(h))
	return h, nil
}

// LocateHandlesFor returns the handles supporting protocol P.
func LocateHandlesFor[P Protocol](bs BootServices) ([]Handle, error) {
	return LocateHandles(bs, ByProtocol(protocolGUID[P]()))
}
