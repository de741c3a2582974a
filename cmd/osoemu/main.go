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

// osoemu runs the kernel handoff against emulated UEFI firmware.
//
// The kernel and boot configuration are read from a directory or from an
// ext4 disk image, exactly as the loader reads them from the boot volume.
//
// Usage:
//
//	go run ./cmd/osoemu --logtostderr --kernel_dir=/tmp/boot --dtb=virt.dtb
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/cmd/osoemu/impl"
)

var (
	kernelDir    = flag.String("kernel_dir", "", "Directory holding the boot volume contents.")
	kernelImage  = flag.String("kernel_image", "", "ext4 image holding the boot volume, instead of --kernel_dir.")
	imageOffset  = flag.Int64("image_offset", 0, "Byte offset of the file system within --kernel_image.")
	dtb          = flag.String("dtb", "", "Device tree blob to publish. A minimal tree is used if empty.")
	configFile   = flag.String("config", "", "Boot configuration file. Read from the boot volume if empty.")
	configPubKey = flag.String("config_pubkey", "", "Note verifier key the boot configuration must be signed with.")
	arch         = flag.String("arch", "arm64", "Architecture the kernel is built for (arm64 or amd64).")
	staleKeys    = flag.Int("stale_keys", 0, "Number of ExitBootServices calls to fail with a stale map key.")
	memSize      = flag.Uint64("mem_size", 1<<30, "Size of emulated RAM in bytes.")
)

func main() {
	flag.Parse()

	if err := impl.Main(impl.Opts{
		KernelDir:    *kernelDir,
		KernelImage:  *kernelImage,
		ImageOffset:  *imageOffset,
		DTB:          *dtb,
		Config:       *configFile,
		ConfigPubKey: *configPubKey,
		Arch:         *arch,
		StaleKeys:    *staleKeys,
		MemorySize:   *memSize,
		Out:          os.Stdout,
	}); err != nil {
		glog.Exitf("osoemu: %v", err)
	}
}
