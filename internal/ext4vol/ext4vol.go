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

// Package ext4vol reads files from an ext4 file system image.
package ext4vol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/dsoprea/go-ext4"
	"github.com/golang/glog"
)

// Volume is a read-only ext4 file system starting at a byte offset of an
// image. It is not safe for concurrent use.
type Volume struct {
	r      io.ReadSeeker
	offset int64
}

// Open returns the volume starting at offset bytes into r.
func Open(r io.ReadSeeker, offset int64) *Volume {
	return &Volume{r: r, offset: offset}
}

// Read, Seek and blockGroup give go-ext4 a view of the partition alone.

func (v *Volume) Read(p []byte) (int, error) {
	return v.r.Read(p)
}

func (v *Volume) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekStart {
		offset += v.offset
	}
	n, err := v.r.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	if n < v.offset {
		return 0, fmt.Errorf("invalid offset %d (%d)", n, offset)
	}
	return n - v.offset, nil
}

func (v *Volume) blockGroup(inode int) (*ext4.BlockGroupDescriptor, error) {
	if _, err := v.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	sb, err := ext4.NewSuperblockWithReader(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}
	bgdl, err := ext4.NewBlockGroupDescriptorListWithReadSeeker(v, sb)
	if err != nil {
		return nil, fmt.Errorf("failed to read block group descriptors: %w", err)
	}
	return bgdl.GetWithAbsoluteInode(inode)
}

// lookup walks the directories along name and returns the inode number of
// the final element.
func (v *Volume) lookup(name string) (int, error) {
	elems := strings.Split(name, "/")
	dir := ext4.InodeRootDirectory
	for i, want := range elems {
		bgd, err := v.blockGroup(dir)
		if err != nil {
			return 0, err
		}
		dw, err := ext4.NewDirectoryWalk(v, bgd, dir)
		if err != nil {
			return 0, err
		}
		found := 0
		for {
			p, de, err := dw.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, err
			}
			// The walk descends into subdirectories, only direct entries
			// are wanted.
			if p == want {
				found = int(de.Data().Inode)
				break
			}
		}
		if found == 0 {
			return 0, fs.ErrNotExist
		}
		glog.V(2).Infof("%s is inode %d", path.Join(elems[:i+1]...), found)
		dir = found
	}
	return dir, nil
}

// ReadFile reads the whole of the named file. Names are slash separated
// and relative to the root directory.
func (v *Volume) ReadFile(name string) ([]byte, error) {
	name = strings.TrimPrefix(name, "/")
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	n, err := v.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	bgd, err := v.blockGroup(n)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	inode, err := ext4.NewInodeWithReadSeeker(bgd, v, n)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	en := ext4.NewExtentNavigatorWithReadSeeker(v, inode)
	b, err := io.ReadAll(ext4.NewInodeReader(en))
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return b, nil
}

// Open implements fs.FS. Files are read whole into memory.
func (v *Volume) Open(name string) (fs.File, error) {
	b, err := v.ReadFile(name)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			pe.Op = "open"
		}
		return nil, err
	}
	return &file{Reader: bytes.NewReader(b), name: path.Base(name), size: int64(len(b))}, nil
}

type file struct {
	*bytes.Reader
	name string
	size int64
}

func (f *file) Stat() (fs.FileInfo, error) { return f, nil }
func (f *file) Close() error               { return nil }

func (f *file) Name() string       { return f.name }
func (f *file) Size() int64        { return f.size }
func (f *file) Mode() fs.FileMode  { return 0o444 }
func (f *file) ModTime() time.Time { return time.Time{} }
func (f *file) IsDir() bool        { return false }
func (f *file) Sys() any           { return nil }
