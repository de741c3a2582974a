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

// ConfigTable is an EFI_CONFIGURATION_TABLE entry: a vendor table
// identified by GUID.
type ConfigTable struct {
	GUID    GUID
	Address uint64
}

// FindConfigTable returns the address of the first table carrying guid.
func FindConfigTable(tables []ConfigTable, guid GUID) (uint64, bool) {
	for _, t := range tables {
		if t.GUID == guid {
			return t.Address, true
		}
	}
	return 0, false
}
