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

package loader

import "fmt"

// State is the progress of the handoff. It only ever moves forward, one
// step at a time.
type State int

const (
	FirmwareActive State = iota
	KernelLoaded
	DeviceTreeObtained
	// BootServicesExited is the point of no return.
	BootServicesExited
	KernelExecuting
)

func (s State) String() string {
	switch s {
	case FirmwareActive:
		return "firmware-active"
	case KernelLoaded:
		return "kernel-loaded"
	case DeviceTreeObtained:
		return "device-tree-obtained"
	case BootServicesExited:
		return "boot-services-exited"
	case KernelExecuting:
		return "kernel-executing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateError is returned when a step is attempted out of order.
type StateError struct {
	Current State
	Want    State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("handoff is %v, step requires %v", e.Current, e.Want)
}
