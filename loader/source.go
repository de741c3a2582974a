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

package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/uefi"
)

// DefaultKernelPath is where the kernel is looked for when the boot
// configuration does not say otherwise.
const DefaultKernelPath = "oso_kernel.elf"

// ErrNoFileSystem is returned when no file system volume holds the kernel.
var ErrNoFileSystem = errors.New("no file system volume holds the kernel")

// KernelSource provides the bytes of the kernel image.
type KernelSource interface {
	ReadKernel() ([]byte, error)
}

// FSSource reads the kernel from a file system.
type FSSource struct {
	FS   fs.FS
	Path string
}

func (s FSSource) ReadKernel() ([]byte, error) {
	return fs.ReadFile(s.FS, s.Path)
}

// MountFunc turns an opened Simple File System protocol into a file
// system. If the result implements io.Closer it is closed after use.
type MountFunc func(*uefi.Interface[uefi.SimpleFileSystem]) (fs.FS, error)

// VolumeSource reads a file from the first Simple File System volume that
// has it. Each volume is opened exclusively for the duration of the read.
type VolumeSource struct {
	Boot  uefi.BootServices
	Mount MountFunc
	Path  string
}

// ReadKernel implements KernelSource.
func (s VolumeSource) ReadKernel() ([]byte, error) {
	return s.ReadFile(s.Path)
}

// ReadFile reads name from the first volume that has it.
func (s VolumeSource) ReadFile(name string) ([]byte, error) {
	handles, err := uefi.LocateHandlesFor[uefi.SimpleFileSystem](s.Boot)
	if err != nil {
		if errors.Is(err, uefi.NotFound) {
			return nil, ErrNoFileSystem
		}
		return nil, err
	}
	for _, h := range handles {
		var b []byte
		err := uefi.With(s.Boot, h, func(i *uefi.Interface[uefi.SimpleFileSystem]) error {
			fsys, err := s.Mount(i)
			if err != nil {
				return err
			}
			if c, ok := fsys.(io.Closer); ok {
				defer c.Close()
			}
			b, err = fs.ReadFile(fsys, name)
			return err
		})
		switch {
		case err == nil:
			glog.Infof("Read %s (%d bytes) from volume %v", name, len(b), h)
			return b, nil
		case errors.Is(err, fs.ErrNotExist):
			glog.V(1).Infof("%s not on volume %v", name, h)
		default:
			glog.Warningf("Volume %v: %v", h, err)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNoFileSystem)
}
