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
	"errors"
	"fmt"
)

// Status is an EFI_STATUS value as returned by every firmware service.
//
// A non-success Status is itself an error, so callers can test for a
// particular status with errors.Is(err, uefi.NotFound).
type Status uint64

const errorBit = 1 << 63

// EFI status codes.
const (
	Success Status = 0

	LoadError           Status = errorBit | 1
	InvalidParameter    Status = errorBit | 2
	Unsupported         Status = errorBit | 3
	BadBufferSize       Status = errorBit | 4
	BufferTooSmall      Status = errorBit | 5
	NotReady            Status = errorBit | 6
	DeviceError         Status = errorBit | 7
	WriteProtected      Status = errorBit | 8
	OutOfResources      Status = errorBit | 9
	VolumeCorrupted     Status = errorBit | 10
	VolumeFull          Status = errorBit | 11
	NoMedia             Status = errorBit | 12
	MediaChanged        Status = errorBit | 13
	NotFound            Status = errorBit | 14
	AccessDenied        Status = errorBit | 15
	NoResponse          Status = errorBit | 16
	NoMapping           Status = errorBit | 17
	Timeout             Status = errorBit | 18
	NotStarted          Status = errorBit | 19
	AlreadyStarted      Status = errorBit | 20
	Aborted             Status = errorBit | 21
	ProtocolErrorStatus Status = errorBit | 24
	IncompatibleVersion Status = errorBit | 25
	SecurityViolation   Status = errorBit | 26
	CRCError            Status = errorBit | 27
	EndOfMedia          Status = errorBit | 28
	EndOfFile           Status = errorBit | 31

	WarnUnknownGlyph   Status = 1
	WarnDeleteFailure  Status = 2
	WarnWriteFailure   Status = 3
	WarnBufferTooSmall Status = 4
	WarnStaleData      Status = 5
	WarnFileSystem     Status = 6
	WarnResetRequired  Status = 7
)

var statusNames = map[Status]string{
	Success:             "EFI_SUCCESS",
	LoadError:           "EFI_LOAD_ERROR",
	InvalidParameter:    "EFI_INVALID_PARAMETER",
	Unsupported:         "EFI_UNSUPPORTED",
	BadBufferSize:       "EFI_BAD_BUFFER_SIZE",
	BufferTooSmall:      "EFI_BUFFER_TOO_SMALL",
	NotReady:            "EFI_NOT_READY",
	DeviceError:         "EFI_DEVICE_ERROR",
	WriteProtected:      "EFI_WRITE_PROTECTED",
	OutOfResources:      "EFI_OUT_OF_RESOURCES",
	VolumeCorrupted:     "EFI_VOLUME_CORRUPTED",
	VolumeFull:          "EFI_VOLUME_FULL",
	NoMedia:             "EFI_NO_MEDIA",
	MediaChanged:        "EFI_MEDIA_CHANGED",
	NotFound:            "EFI_NOT_FOUND",
	AccessDenied:        "EFI_ACCESS_DENIED",
	NoResponse:          "EFI_NO_RESPONSE",
	NoMapping:           "EFI_NO_MAPPING",
	Timeout:             "EFI_TIMEOUT",
	NotStarted:          "EFI_NOT_STARTED",
	AlreadyStarted:      "EFI_ALREADY_STARTED",
	Aborted:             "EFI_ABORTED",
	ProtocolErrorStatus: "EFI_PROTOCOL_ERROR",
	IncompatibleVersion: "EFI_INCOMPATIBLE_VERSION",
	SecurityViolation:   "EFI_SECURITY_VIOLATION",
	CRCError:            "EFI_CRC_ERROR",
	EndOfMedia:          "EFI_END_OF_MEDIA",
	EndOfFile:           "EFI_END_OF_FILE",
	WarnUnknownGlyph:    "EFI_WARN_UNKNOWN_GLYPH",
	WarnDeleteFailure:   "EFI_WARN_DELETE_FAILURE",
	WarnWriteFailure:    "EFI_WARN_WRITE_FAILURE",
	WarnBufferTooSmall:  "EFI_WARN_BUFFER_TOO_SMALL",
	WarnStaleData:       "EFI_WARN_STALE_DATA",
	WarnFileSystem:      "EFI_WARN_FILE_SYSTEM",
	WarnResetRequired:   "EFI_WARN_RESET_REQUIRED",
}

// IsError reports whether s has the error bit set.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	if s.IsError() {
		return fmt.Sprintf("EFI_STATUS(error %#x)", uint64(s&^errorBit))
	}
	return fmt.Sprintf("EFI_STATUS(%#x)", uint64(s))
}

func (s Status) Error() string {
	return s.String()
}

// StatusError is a failed firmware call.
type StatusError struct {
	// Op names the firmware service, e.g. "OpenProtocol".
	Op     string
	Status Status
	// Desc optionally adds context about the arguments.
	Desc string
}

func (e *StatusError) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("%s(%s): %v", e.Op, e.Desc, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Status
}

// Check converts the status returned by the named service into an error.
// Warnings are not treated as failures.
func Check(op string, s Status) error {
	if !s.IsError() {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// StatusOf extracts the firmware status carried by err, if any.
func StatusOf(err error) (Status, bool) {
	var s Status
	if errors.As(err, &s) {
		return s, true
	}
	return Success, false
}
