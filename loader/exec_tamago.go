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

package loader

// defined in exec_$GOARCH.s
func exec(entry, dtb, head, tail uint64)

var defaultJump JumpFunc = func(entry EntryAddress, dtb DeviceTreeAddress, head, tail uint64) {
	exec(uint64(entry), uint64(dtb), head, tail)
}
