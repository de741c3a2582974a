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

package uefi_test

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/oso-os/oso-loader/uefi"
	"github.com/oso-os/oso-loader/uefi/mock_uefi"
)

var (
	image  = mustHandle(0x1000)
	target = mustHandle(0x2000)
	sfs    = uefi.SimpleFileSystemProtocolGUID
)

func mustHandle(p uintptr) uefi.Handle {
	h, err := uefi.NewHandle(p)
	if err != nil {
		panic(err)
	}
	return h
}

// initImage records image as the loader image for the duration of the test.
func initImage(t *testing.T, bs uefi.BootServices) {
	t.Helper()
	uefi.ResetForTest()
	if err := uefi.Init(image, &uefi.SystemTable{Boot: bs}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(uefi.ResetForTest)
}

func TestOpenExclusiveClosesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)
	initImage(t, bs)

	gomock.InOrder(
		bs.EXPECT().OpenProtocol(target, sfs, image, uefi.Handle{}, uefi.AttrExclusive).Return(uintptr(0xbeef), nil).Times(1),
		bs.EXPECT().CloseProtocol(target, sfs, image, uefi.Handle{}).Return(nil).Times(1),
	)

	i, err := uefi.OpenExclusive[uefi.SimpleFileSystem](bs, target)
	if err != nil {
		t.Fatalf("OpenExclusive: %v", err)
	}
	if p, ok := i.Pointer(); !ok || p != 0xbeef {
		t.Errorf("Pointer() = %#x, %v, want 0xbeef, true", p, ok)
	}
	for n := 0; n < 3; n++ {
		if err := i.Close(); err != nil {
			t.Errorf("Close #%d: %v", n, err)
		}
	}
	if _, ok := i.Pointer(); ok {
		t.Error("Pointer() after Close reported a live interface")
	}
}

func TestOpenFailureNeverCloses(t *testing.T) {
	for _, test := range []struct {
		status uefi.Status
		want   uefi.ProtocolErrorKind
	}{
		{status: uefi.Unsupported, want: uefi.ProtocolAbsent},
		{status: uefi.AccessDenied, want: uefi.AlreadyOwned},
		{status: uefi.AlreadyStarted, want: uefi.AlreadyOwned},
		{status: uefi.InvalidParameter, want: uefi.InvalidHandle},
		{status: uefi.DeviceError, want: uefi.Other},
	} {
		t.Run(test.status.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			bs := mock_uefi.NewMockBootServices(ctrl)

			// No CloseProtocol expectation: any close fails the test.
			bs.EXPECT().OpenProtocol(target, sfs, image, uefi.Handle{}, uefi.AttrGetProtocol).
				Return(uintptr(0), &uefi.StatusError{Op: "OpenProtocol", Status: test.status}).Times(1)

			i, err := uefi.Open[uefi.SimpleFileSystem](bs, target, image, uefi.Handle{}, uefi.AttrGetProtocol)
			if i == nil {
				t.Fatal("Open returned a nil Interface")
			}
			defer i.Close()

			var pe *uefi.ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("Open = %v, want *ProtocolError", err)
			}
			if pe.Kind != test.want {
				t.Errorf("Kind = %v, want %v", pe.Kind, test.want)
			}
			if !errors.Is(err, test.status) {
				t.Errorf("errors.Is(%v, %v) = false", err, test.status)
			}
			if _, ok := i.Pointer(); ok {
				t.Error("failed open reported a live interface")
			}
		})
	}
}

func TestOpenNullTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)

	_, err := uefi.Open[uefi.LoadedImage](bs, uefi.Handle{}, image, uefi.Handle{}, uefi.AttrGetProtocol)
	var pe *uefi.ProtocolError
	if !errors.As(err, &pe) || pe.Kind != uefi.InvalidHandle {
		t.Errorf("Open(null) = %v, want InvalidHandle", err)
	}
}

func TestOpenExclusiveBeforeInit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)
	uefi.ResetForTest()

	i, err := uefi.OpenExclusive[uefi.SimpleFileSystem](bs, target)
	if !errors.Is(err, uefi.ErrNotInitialized) {
		t.Errorf("OpenExclusive = %v, want %v", err, uefi.ErrNotInitialized)
	}
	if err := i.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCloseFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)
	initImage(t, bs)

	closeErr := &uefi.StatusError{Op: "CloseProtocol", Status: uefi.NotFound}
	bs.EXPECT().OpenProtocol(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(uintptr(1), nil)
	bs.EXPECT().CloseProtocol(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(closeErr).Times(1)

	i, err := uefi.OpenExclusive[uefi.DevicePath](bs, target)
	if err != nil {
		t.Fatalf("OpenExclusive: %v", err)
	}
	if err := i.Close(); !errors.Is(err, uefi.NotFound) {
		t.Errorf("Close = %v, want %v", err, uefi.NotFound)
	}
	// The failed close still discharges the obligation.
	if err := i.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestWith(t *testing.T) {
	errFn := errors.New("fn failed")
	for _, test := range []struct {
		desc    string
		fn      func(*uefi.Interface[uefi.SimpleFileSystem]) error
		panics  bool
		wantErr error
	}{
		{
			desc: "success",
			fn:   func(*uefi.Interface[uefi.SimpleFileSystem]) error { return nil },
		}, {
			desc:    "early error",
			fn:      func(*uefi.Interface[uefi.SimpleFileSystem]) error { return errFn },
			wantErr: errFn,
		}, {
			desc:   "panic",
			fn:     func(*uefi.Interface[uefi.SimpleFileSystem]) error { panic("boom") },
			panics: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			bs := mock_uefi.NewMockBootServices(ctrl)
			initImage(t, bs)

			gomock.InOrder(
				bs.EXPECT().OpenProtocol(target, sfs, image, uefi.Handle{}, uefi.AttrExclusive).Return(uintptr(0x10), nil).Times(1),
				bs.EXPECT().CloseProtocol(target, sfs, image, uefi.Handle{}).Return(nil).Times(1),
			)

			var err error
			func() {
				defer func() {
					if r := recover(); (r != nil) != test.panics {
						t.Errorf("recover() = %v, want panic %v", r, test.panics)
					}
				}()
				err = uefi.With(bs, target, test.fn)
			}()
			if !errors.Is(err, test.wantErr) {
				t.Errorf("With = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestWithOpenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)
	initImage(t, bs)

	bs.EXPECT().OpenProtocol(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(uintptr(0), &uefi.StatusError{Op: "OpenProtocol", Status: uefi.Unsupported})

	called := false
	err := uefi.With(bs, target, func(*uefi.Interface[uefi.SimpleFileSystem]) error {
		called = true
		return nil
	})
	if !errors.Is(err, uefi.Unsupported) {
		t.Errorf("With = %v, want %v", err, uefi.Unsupported)
	}
	if called {
		t.Error("fn called after failed open")
	}
}

func TestLocateHandles(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)

	all := []uefi.Handle{image, target}
	bs.EXPECT().LocateHandleBuffer(uefi.AllHandlesSearch, gomock.Nil(), uefi.SearchKey(0)).Return(all, nil)
	bs.EXPECT().LocateHandleBuffer(uefi.ByProtocolSearch, gomock.Eq(&sfs), uefi.SearchKey(0)).Return([]uefi.Handle{target}, nil)
	bs.EXPECT().LocateHandleBuffer(uefi.ByRegisterNotifySearch, gomock.Nil(), uefi.SearchKey(9)).
		Return(nil, &uefi.StatusError{Op: "LocateHandleBuffer", Status: uefi.NotFound})

	got, err := uefi.LocateHandles(bs, uefi.AllHandles())
	if err != nil {
		t.Fatalf("LocateHandles(all): %v", err)
	}
	if diff := cmp.Diff(all, got, cmp.Comparer(func(a, b uefi.Handle) bool { return a == b })); diff != "" {
		t.Errorf("LocateHandles(all) diff (-want +got):\n%s", diff)
	}

	got, err = uefi.LocateHandlesFor[uefi.SimpleFileSystem](bs)
	if err != nil {
		t.Fatalf("LocateHandlesFor: %v", err)
	}
	if len(got) != 1 || got[0] != target {
		t.Errorf("LocateHandlesFor = %v, want [%v]", got, target)
	}

	if _, err := uefi.LocateHandles(bs, uefi.ByRegisterNotify(9)); !errors.Is(err, uefi.NotFound) {
		t.Errorf("LocateHandles(notify) = %v, want %v", err, uefi.NotFound)
	}
}

func TestConnectAllIgnoresFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	bs := mock_uefi.NewMockBootServices(ctrl)

	h3 := mustHandle(0x3000)
	bs.EXPECT().LocateHandleBuffer(uefi.AllHandlesSearch, gomock.Nil(), gomock.Any()).Return([]uefi.Handle{image, target, h3}, nil)
	bs.EXPECT().ConnectController(image, uefi.Handle{}, true).Return(&uefi.StatusError{Op: "ConnectController", Status: uefi.NotFound})
	bs.EXPECT().ConnectController(target, uefi.Handle{}, true).Return(nil)
	bs.EXPECT().ConnectController(h3, uefi.Handle{}, true).Return(&uefi.StatusError{Op: "ConnectController", Status: uefi.Unsupported})

	n, err := uefi.ConnectAll(bs)
	if err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if n != 1 {
		t.Errorf("ConnectAll connected %d handles, want 1", n)
	}
}
