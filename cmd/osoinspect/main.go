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

// osoinspect prints what the loader would make of ELF kernel images, and
// converts GUIDs to the byte order firmware uses.
//
// Usage:
//
//	go run ./cmd/osoinspect oso_kernel.elf
//	go run ./cmd/osoinspect --guid=b1b621d5-f19c-41a5-830b-d9152c69aae0
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/cmd/osoinspect/impl"
)

var guid = flag.String("guid", "", "GUID to print in firmware byte order.")

func main() {
	flag.Parse()

	if err := impl.Main(impl.Opts{
		Files: flag.Args(),
		GUID:  *guid,
		Out:   os.Stdout,
	}); err != nil {
		glog.Exitf("osoinspect: %v", err)
	}
}
