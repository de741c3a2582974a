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

//go:build tamago && amd64

// osoloader is the UEFI application which boots the oso kernel.
//
// It reads oso_boot.conf and the kernel it names from the first Simple
// File System volume holding them, loads the kernel, exits boot services
// and enters the kernel with the firmware device tree.
//
// It is built with the tamago compiler and converted to a PE32+ image:
//
//	GOOS=tamago GOARCH=amd64 $TAMAGO build -ldflags "-T 0x40010000 -E cpuinit -R 0x1000" -o osoloader.elf ./cmd/osoloader
//	objcopy --target efi-app-x86_64 --subsystem=10 osoloader.elf osoloader.efi
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/loader"
	"github.com/oso-os/oso-loader/loader/config"
	"github.com/oso-os/oso-loader/uefi"
)

// Set with -ldflags -X.
var (
	Revision string
	Build    string
	// ConfigPubKey, when set, is the note verifier key the boot
	// configuration must be signed with.
	ConfigPubKey string
)

// failureStall is how long an error stays on screen before the machine
// halts, in microseconds.
const failureStall = 10 * 1000 * 1000

func mount(i *uefi.Interface[uefi.SimpleFileSystem]) (fs.FS, error) {
	return uefi.Mount(i)
}

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()

	fw, err := uefi.InitFirmware(imageHandle, systemTable)
	if err != nil {
		glog.Errorf("oso-loader: %v", err)
		halt()
	}
	if err := boot(fw); err != nil {
		fmt.Fprintf(fw.Console(), "oso-loader: %v\n", err)
		if err := fw.Stall(failureStall); err != nil {
			glog.Warningf("Stall: %v", err)
		}
	}
	halt()
}

func boot(fw *uefi.Firmware) error {
	st, err := uefi.System()
	if err != nil {
		return err
	}
	glog.Infof("oso-loader %s (%s) on %s rev %#x", Revision, Build, st.FirmwareVendor, st.FirmwareRevision)

	n, err := uefi.ConnectAll(fw)
	if err != nil {
		return fmt.Errorf("failed to connect controllers: %w", err)
	}
	glog.V(1).Infof("Connected %d controllers", n)

	vol := loader.VolumeSource{Boot: fw, Mount: mount}
	cfg := config.Default()
	raw, err := vol.ReadFile(config.DefaultPath)
	switch {
	case err == nil:
		if cfg, err = config.Load(raw, ConfigPubKey); err != nil {
			return err
		}
	case errors.Is(err, loader.ErrNoFileSystem) && ConfigPubKey == "":
		glog.Infof("No %s, booting %s", config.DefaultPath, cfg.KernelPath())
	default:
		return fmt.Errorf("failed to read %s: %w", config.DefaultPath, err)
	}
	vol.Path = cfg.KernelPath()

	l, err := loader.FromFirmware(uefi.Memory{}, vol, loader.Opts{
		KernelHash:       cfg.KernelHash(),
		VerifyDeviceTree: cfg.VerifyDeviceTree,
	})
	if err != nil {
		return err
	}
	return l.Boot()
}
