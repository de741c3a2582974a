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
	"sync/atomic"
)

var (
	// ErrNullHandle is returned when a handle would wrap a null pointer.
	ErrNullHandle = errors.New("null handle")
	// ErrNotInitialized is returned when the image handle or system table
	// is read before Init.
	ErrNotInitialized = errors.New("uefi: not initialized")
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("uefi: already initialized")
)

// Handle is an opaque, firmware-owned reference to a device, image or
// protocol instance. The loader never allocates or frees what it points to.
//
// A Handle built by NewHandle is never null. The zero Handle stands for "no
// handle" where an optional handle is accepted.
type Handle struct {
	ptr uintptr
}

// NewHandle wraps a pointer returned by firmware.
func NewHandle(ptr uintptr) (Handle, error) {
	if ptr == 0 {
		return Handle{}, ErrNullHandle
	}
	return Handle{ptr: ptr}, nil
}

// Ptr returns the raw pointer value, 0 for the zero Handle.
func (h Handle) Ptr() uintptr {
	return h.ptr
}

// IsNull reports whether h is the zero Handle.
func (h Handle) IsNull() bool {
	return h.ptr == 0
}

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%#x)", h.ptr)
}

// SystemTable is the part of EFI_SYSTEM_TABLE the loader consumes.
type SystemTable struct {
	// Boot is the boot services table. It must not be used once
	// ExitBootServices has succeeded.
	Boot BootServices
	// ConfigTables lists the vendor configuration tables.
	ConfigTables []ConfigTable
	// FirmwareVendor and FirmwareRevision are informational.
	FirmwareVendor   string
	FirmwareRevision uint32
}

type environment struct {
	image Handle
	st    *SystemTable
}

// env is written once by Init and read-only afterwards.
var env atomic.Pointer[environment]

// Init records the image handle and the system table handed to the loader
// entry point. It may only be called once.
func Init(image Handle, st *SystemTable) error {
	if image.IsNull() {
		return fmt.Errorf("image handle: %w", ErrNullHandle)
	}
	if st == nil || st.Boot == nil {
		return errors.New("uefi: nil system table")
	}
	if !env.CompareAndSwap(nil, &environment{image: image, st: st}) {
		return ErrAlreadyInitialized
	}
	return nil
}

// ImageHandle returns the handle identifying the loader image to firmware.
func ImageHandle() (Handle, error) {
	e := env.Load()
	if e == nil {
		return Handle{}, ErrNotInitialized
	}
	return e.image, nil
}

// System returns the system table recorded by Init.
func System() (*SystemTable, error) {
	e := env.Load()
	if e == nil {
		return nil, ErrNotInitialized
	}
	return e.st, nil
}
