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

// Package impl is the implementation of the osoinspect tool.
package impl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/oso-os/oso-loader/elf"
	"github.com/oso-os/oso-loader/uefi"
	"golang.org/x/sync/errgroup"
)

// Opts encapsulates the parameters for inspection.
type Opts struct {
	Files []string
	GUID  string
	Out   io.Writer
}

// Main parses every file and prints a report for each, in order.
func Main(opts Opts) error {
	if len(opts.Files) == 0 && opts.GUID == "" {
		return errors.New("nothing to inspect")
	}
	if opts.GUID != "" {
		g, err := uefi.ParseGUID(opts.GUID)
		if err != nil {
			return err
		}
		u := g.UUID()
		fmt.Fprintf(opts.Out, "GUID %v\n  firmware bytes: % x\n  RFC 4122 bytes: % x\n", g, g[:], u[:])
	}

	files := make([]*elf.File, len(opts.Files))
	g := new(errgroup.Group)
	for i, name := range opts.Files {
		g.Go(func() error {
			b, err := os.ReadFile(name)
			if err != nil {
				return err
			}
			f, err := elf.Parse(b)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, f := range files {
		report(opts.Out, opts.Files[i], f)
	}
	return nil
}

func report(w io.Writer, name string, f *elf.File) {
	h := f.Header
	fmt.Fprintf(w, "%s: %v %v, entry %#x, %d program headers at %#x\n", name, h.Type, h.Machine, h.Entry, h.PhNum, h.PhOff)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tFLAGS\tOFFSET\tVADDR\tFILESZ\tMEMSZ\tALIGN")
	for _, p := range f.Progs {
		fmt.Fprintf(tw, "  %v\t%v\t%#x\t%#x\t%#x\t%#x\t%#x\n", p.Type, p.Flags, p.Offset, p.VirtualAddress, p.FileSize, p.MemorySize, p.Align)
	}
	tw.Flush()

	head, tail, ok := f.LoadRange()
	if !ok {
		fmt.Fprintln(w, "  nothing to load")
		return
	}
	fmt.Fprintf(w, "  load range [%#x, %#x), %d pages\n", head, tail, uefi.Pages(tail-(head&^(uefi.PageSize-1))))
}
