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

// Package impl is the implementation of the osoemu tool.
package impl

import (
	goelf "debug/elf"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/internal/emufw"
	"github.com/oso-os/oso-loader/internal/ext4vol"
	"github.com/oso-os/oso-loader/loader"
	"github.com/oso-os/oso-loader/loader/config"
	"github.com/oso-os/oso-loader/uefi"
)

// Opts encapsulates the parameters for running the emulator.
type Opts struct {
	KernelDir   string
	KernelImage string
	ImageOffset int64

	DTB          string
	Config       string
	ConfigPubKey string
	Arch         string
	StaleKeys    int
	MemorySize   uint64

	Out io.Writer
}

// ramStart is where emulated RAM begins, as on QEMU's virt machine.
const ramStart = 0x40000000

var machines = map[string]goelf.Machine{
	"amd64": goelf.EM_X86_64,
	"arm64": goelf.EM_AARCH64,
}

// Main boots the configured kernel on emulated firmware and reports where
// it was entered.
func Main(opts Opts) error {
	machine, ok := machines[opts.Arch]
	if !ok {
		return fmt.Errorf("unsupported architecture %q", opts.Arch)
	}
	fsys, closer, err := bootVolume(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	if opts.Out == nil {
		opts.Out = io.Discard
	}
	f := emufw.New(emufw.Opts{MemoryStart: ramStart, MemorySize: opts.MemorySize, StaleKeys: opts.StaleKeys})
	f.InstallFileSystem(fsys)
	// Every emulated firmware has the same image handle, so a repeated
	// Init in the same process is harmless.
	if err := uefi.Init(f.Image(), f.SystemTable()); err != nil && !errors.Is(err, uefi.ErrAlreadyInitialized) {
		return err
	}
	if _, err := uefi.ConnectAll(f); err != nil {
		return fmt.Errorf("failed to connect controllers: %w", err)
	}

	vol := loader.VolumeSource{Boot: f, Mount: f.Mount}
	cfg, err := bootConfig(opts, vol)
	if err != nil {
		return err
	}
	glog.V(1).Infof("Boot configuration:\n%v", cfg)
	vol.Path = cfg.KernelPath()

	blob, err := deviceTree(opts.DTB)
	if err != nil {
		return err
	}
	if _, err := f.InstallDeviceTree(blob, cfg.Bootargs); err != nil {
		return err
	}

	var entered bool
	l := loader.New(loader.Opts{
		Boot:             f,
		Image:            f.Image(),
		ConfigTables:     f.SystemTable().ConfigTables,
		Memory:           f,
		Kernel:           vol,
		KernelHash:       cfg.KernelHash(),
		VerifyDeviceTree: cfg.VerifyDeviceTree,
		Machine:          machine,
		Jump: func(entry loader.EntryAddress, dtb loader.DeviceTreeAddress, head, tail uint64) {
			entered = true
			fmt.Fprintf(opts.Out, "Entering kernel at %#x with device tree at %#x (kernel image [%#x, %#x))\n", entry, dtb, head, tail)
		},
	})
	bootErr := l.Boot()
	fmt.Fprintf(opts.Out, "Handoff state: %v\n", l.State())
	if m := l.MemoryMap(); m != nil {
		printMemoryMap(opts.Out, m)
	}
	if bootErr != nil {
		return fmt.Errorf("boot failed: %w", bootErr)
	}
	if !entered {
		return errors.New("kernel was not entered")
	}
	if n := f.Violations(); n > 0 {
		return fmt.Errorf("%d boot services were called after ExitBootServices", n)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func bootVolume(opts Opts) (fs.FS, io.Closer, error) {
	switch {
	case opts.KernelDir != "" && opts.KernelImage != "":
		return nil, nil, errors.New("only one of kernel_dir and kernel_image may be set")
	case opts.KernelDir != "":
		return os.DirFS(opts.KernelDir), nopCloser{}, nil
	case opts.KernelImage != "":
		img, err := os.Open(opts.KernelImage)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open disk image: %w", err)
		}
		return ext4vol.Open(img, opts.ImageOffset), img, nil
	}
	return nil, nil, errors.New("one of kernel_dir or kernel_image must be set")
}

func bootConfig(opts Opts, vol loader.VolumeSource) (*config.Config, error) {
	var raw []byte
	var err error
	if opts.Config != "" {
		raw, err = os.ReadFile(opts.Config)
	} else {
		raw, err = vol.ReadFile(config.DefaultPath)
		if errors.Is(err, loader.ErrNoFileSystem) && opts.ConfigPubKey == "" {
			glog.Infof("No %s on the boot volume, using defaults", config.DefaultPath)
			return config.Default(), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read boot configuration: %w", err)
	}
	return config.Load(raw, opts.ConfigPubKey)
}

func deviceTree(path string) ([]byte, error) {
	if path == "" {
		return emufw.MinimalDeviceTree("oso,emulated")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device tree: %w", err)
	}
	return b, nil
}

func printMemoryMap(w io.Writer, m *uefi.MemoryMap) {
	fmt.Fprintf(w, "Memory map (key %d):\n", m.Key)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTART\tEND\tPAGES")
	for _, d := range m.Descriptors {
		fmt.Fprintf(tw, "%v\t%#x\t%#x\t%d\n", d.Type, d.PhysicalStart, d.End(), d.NumberOfPages)
	}
	tw.Flush()
}
