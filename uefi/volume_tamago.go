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
	"bytes"
	"io/fs"
	"path"
	"runtime"
	"strings"
	"time"
	"unicode/utf16"
)

// EFI_SIMPLE_FILE_SYSTEM_PROTOCOL offsets
const openVolume = 0x08

// EFI_FILE_PROTOCOL offsets
const (
	fileOpen        = 0x08
	fileClose       = 0x10
	fileRead        = 0x20
	fileGetPosition = 0x30
	fileSetPosition = 0x38

	fileModeRead = 0x1
	endOfFile    = 0xffffffffffffffff
)

// Volume is a read-only fs.FS over a Simple File System protocol instance.
// It is only valid while the protocol remains open.
type Volume struct {
	root uint64
}

// Mount opens the root directory of the volume behind an opened Simple
// File System protocol.
func Mount(i *Interface[SimpleFileSystem]) (*Volume, error) {
	p, ok := i.Pointer()
	if !ok {
		return nil, &ProtocolError{Kind: ProtocolAbsent, Protocol: SimpleFileSystemProtocolGUID, Target: i.Target, Err: fs.ErrClosed}
	}
	var root uint64
	s := Status(callService(uint64(p)+openVolume, uint64(p), ptrval(&root), 0, 0, 0, 0))
	if err := Check("OpenVolume", s); err != nil {
		return nil, err
	}
	return &Volume{root: root}, nil
}

// Close closes the root directory.
func (v *Volume) Close() error {
	if v.root == 0 {
		return nil
	}
	s := Status(callService(v.root+fileClose, v.root, 0, 0, 0, 0, 0))
	v.root = 0
	return Check("Close", s)
}

// ReadFile reads the named file, using '/' separated paths relative to the
// volume root.
func (v *Volume) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	if v.root == 0 {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrClosed}
	}

	// Firmware paths use backslashes.
	p := utf16.Encode([]rune(strings.ReplaceAll(name, "/", `\`)))
	p = append(p, 0)
	var fh uint64
	s := Status(callService(v.root+fileOpen, v.root, ptrval(&fh), ptrval(&p[0]), fileModeRead, 0, 0))
	runtime.KeepAlive(p)
	if s == NotFound {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if err := Check("Open", s); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	defer callService(fh+fileClose, fh, 0, 0, 0, 0, 0)

	var size uint64
	if err := Check("SetPosition", Status(callService(fh+fileSetPosition, fh, endOfFile, 0, 0, 0, 0))); err != nil {
		return nil, &fs.PathError{Op: "seek", Path: name, Err: err}
	}
	if err := Check("GetPosition", Status(callService(fh+fileGetPosition, fh, ptrval(&size), 0, 0, 0, 0))); err != nil {
		return nil, &fs.PathError{Op: "seek", Path: name, Err: err}
	}
	if err := Check("SetPosition", Status(callService(fh+fileSetPosition, fh, 0, 0, 0, 0, 0))); err != nil {
		return nil, &fs.PathError{Op: "seek", Path: name, Err: err}
	}

	buf := make([]byte, size)
	for off := uint64(0); off < size; {
		n := size - off
		s := Status(callService(fh+fileRead, fh, ptrval(&n), ptrval(&buf[off]), 0, 0, 0))
		if err := Check("Read", s); err != nil {
			return nil, &fs.PathError{Op: "read", Path: name, Err: err}
		}
		if n == 0 {
			return nil, &fs.PathError{Op: "read", Path: name, Err: EndOfFile}
		}
		off += n
	}
	runtime.KeepAlive(buf)
	return buf, nil
}

// Open implements fs.FS. Files are read whole into memory.
func (v *Volume) Open(name string) (fs.File, error) {
	b, err := v.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return &volumeFile{Reader: bytes.NewReader(b), name: path.Base(name), size: int64(len(b))}, nil
}

type volumeFile struct {
	*bytes.Reader
	name string
	size int64
}

func (f *volumeFile) Stat() (fs.FileInfo, error) { return f, nil }
func (f *volumeFile) Close() error               { return nil }

func (f *volumeFile) Name() string       { return f.name }
func (f *volumeFile) Size() int64        { return f.size }
func (f *volumeFile) Mode() fs.FileMode  { return 0o444 }
func (f *volumeFile) ModTime() time.Time { return time.Time{} }
func (f *volumeFile) IsDir() bool        { return false }
func (f *volumeFile) Sys() any           { return nil }
