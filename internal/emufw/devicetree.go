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

package emufw

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/uefi"
	"github.com/u-root/u-root/pkg/dt"
)

// InstallDeviceTree copies a flattened device tree into firmware memory and
// publishes it as the device tree configuration table. A non-empty bootargs
// is added to the /chosen node first. It returns the address of the blob.
func (f *Firmware) InstallDeviceTree(blob []byte, bootargs string) (uint64, error) {
	if bootargs != "" {
		var err error
		if blob, err = withBootArgs(blob, bootargs); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	addr, err := f.allocate(uefi.AllocateAnyPages, uefi.ACPIReclaimMemory, uefi.Pages(uint64(len(blob))), 0)
	if err == nil {
		copy(f.backing[addr], blob)
	}
	f.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate device tree: %w", err)
	}

	f.InstallConfigTable(uefi.DeviceTreeTableGUID, addr)
	glog.V(1).Infof("Installed %d byte device tree at %#x", len(blob), addr)
	return addr, nil
}

// fdtMagic opens every flattened device tree.
const fdtMagic = 0xd00dfeed

// MinimalDeviceTree returns a device tree holding only a root node with the
// given model and an empty /chosen node.
func MinimalDeviceTree(model string) ([]byte, error) {
	fdt := &dt.FDT{
		Header: dt.Header{Magic: fdtMagic, Version: 17, LastCompVersion: 16},
		RootNode: &dt.Node{
			Properties: []dt.Property{
				{Name: "#address-cells", Value: []byte{0, 0, 0, 2}},
				{Name: "#size-cells", Value: []byte{0, 0, 0, 2}},
				{Name: "model", Value: []byte(model + "\x00")},
			},
			Children: []*dt.Node{{Name: "chosen"}},
		},
	}
	var buf bytes.Buffer
	if _, err := fdt.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func withBootArgs(blob []byte, bootargs string) ([]byte, error) {
	fdt, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to read device tree: %w", err)
	}

	prop := dt.Property{Name: "bootargs", Value: []byte(bootargs + "\x00")}
	var chosen *dt.Node
	for _, n := range fdt.RootNode.Children {
		if n.Name == "chosen" {
			chosen = n
			break
		}
	}
	if chosen == nil {
		chosen = &dt.Node{Name: "chosen"}
		fdt.RootNode.Children = append(fdt.RootNode.Children, chosen)
	}
	replaced := false
	for i := range chosen.Properties {
		if chosen.Properties[i].Name == prop.Name {
			chosen.Properties[i] = prop
			replaced = true
		}
	}
	if !replaced {
		chosen.Properties = append(chosen.Properties, prop)
	}

	var buf bytes.Buffer
	if _, err := fdt.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write device tree: %w", err)
	}
	return buf.Bytes(), nil
}
