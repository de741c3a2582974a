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

package uefi

import (
	"github.com/golang/glog"
)

// ConnectAll recursively connects drivers to every handle, so that block
// devices and their file systems show up in the handle database.
//
// Most handles are not controllers, so per-handle failures are ignored.
// It returns the number of handles connected.
func ConnectAll(bs BootServices) (int, error) {
	handles, err := LocateHandles(bs, AllHandles())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range handles {
		if err := bs.ConnectController(h, Handle{}, true); err != nil {
			glog.V(2).Infof("ConnectController(%v): %v", h, err)
			continue
		}
		n++
	}
	glog.V(1).Infof("Connected %d of %d handles", n, len(handles))
	return n, nil
}
