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
	"fmt"
	"io/fs"
	"sort"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/uefi"
)

type openRecord struct {
	agent, controller uefi.Handle
	attrs             uefi.OpenAttributes
}

type protocolEntry struct {
	iface uintptr
	opens []openRecord
}

type handleEntry struct {
	protocols map[uefi.GUID]*protocolEntry
	// connectable handles have a driver which ConnectController binds.
	connectable bool
	connected   bool
}

// NewHandle creates an empty handle.
func (f *Firmware) NewHandle() uefi.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newHandleLocked()
}

func (f *Firmware) newHandleLocked() uefi.Handle {
	p := f.nextHandle
	f.nextHandle += 0x10
	f.handles[p] = &handleEntry{protocols: make(map[uefi.GUID]*protocolEntry)}
	h, _ := uefi.NewHandle(p)
	return h
}

// InstallProtocol installs protocol g on h. payload is what the returned
// interface pointer stands for, see Interface.
func (f *Firmware) InstallProtocol(h uefi.Handle, g uefi.GUID, payload any) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handles[h.Ptr()]; !ok {
		return 0, &uefi.StatusError{Op: "InstallProtocol", Status: uefi.InvalidParameter}
	}
	return f.installLocked(h, g, payload), nil
}

func (f *Firmware) installLocked(h uefi.Handle, g uefi.GUID, payload any) uintptr {
	p := f.nextIface
	f.nextIface += 0x100
	f.ifaces[p] = payload
	f.handles[h.Ptr()].protocols[g] = &protocolEntry{iface: p}
	f.mapKey++
	return p
}

// InstallFileSystem creates a connectable handle carrying a Simple File
// System protocol backed by fsys.
func (f *Firmware) InstallFileSystem(fsys fs.FS) uefi.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.newHandleLocked()
	f.handles[h.Ptr()].connectable = true
	f.installLocked(h, uefi.SimpleFileSystemProtocolGUID, fsys)
	return h
}

// Interface returns the payload behind an interface pointer.
func (f *Firmware) Interface(p uintptr) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.ifaces[p]
	return v, ok
}

// Mount returns the file system behind an opened Simple File System
// protocol. It is the emulated counterpart of uefi.Mount.
func (f *Firmware) Mount(i *uefi.Interface[uefi.SimpleFileSystem]) (fs.FS, error) {
	p, ok := i.Pointer()
	if !ok {
		return nil, fmt.Errorf("volume on %v is not open", i.Target)
	}
	v, ok := f.Interface(p)
	if !ok {
		return nil, fmt.Errorf("no interface at %#x", p)
	}
	fsys, ok := v.(fs.FS)
	if !ok {
		return nil, fmt.Errorf("interface at %#x is %T, not a file system", p, v)
	}
	return fsys, nil
}

// OpenCount returns the number of protocol opens not yet closed.
func (f *Firmware) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		for _, p := range h.protocols {
			n += len(p.opens)
		}
	}
	return n
}

func (f *Firmware) LocateHandleBuffer(search uefi.SearchType, protocol *uefi.GUID, key uefi.SearchKey) ([]uefi.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("LocateHandleBuffer"); err != nil {
		return nil, err
	}

	var ptrs []uintptr
	switch search {
	case uefi.AllHandlesSearch:
		for p := range f.handles {
			ptrs = append(ptrs, p)
		}
	case uefi.ByProtocolSearch:
		if protocol == nil {
			return nil, &uefi.StatusError{Op: "LocateHandleBuffer", Status: uefi.InvalidParameter}
		}
		for p, h := range f.handles {
			if _, ok := h.protocols[*protocol]; ok {
				ptrs = append(ptrs, p)
			}
		}
	default:
		// No protocol notifications are ever registered.
		return nil, &uefi.StatusError{Op: "LocateHandleBuffer", Status: uefi.InvalidParameter, Desc: fmt.Sprintf("search key %#x", key)}
	}
	if len(ptrs) == 0 {
		return nil, &uefi.StatusError{Op: "LocateHandleBuffer", Status: uefi.NotFound}
	}
	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })
	handles := make([]uefi.Handle, 0, len(ptrs))
	for _, p := range ptrs {
		h, _ := uefi.NewHandle(p)
		handles = append(handles, h)
	}
	return handles, nil
}

func (f *Firmware) OpenProtocol(target uefi.Handle, g uefi.GUID, agent, controller uefi.Handle, attrs uefi.OpenAttributes) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("OpenProtocol"); err != nil {
		return 0, err
	}
	fail := func(s uefi.Status) (uintptr, error) {
		return 0, &uefi.StatusError{Op: "OpenProtocol", Status: s, Desc: g.String()}
	}

	h, ok := f.handles[target.Ptr()]
	if !ok {
		return fail(uefi.InvalidParameter)
	}
	exclusive := attrs&(uefi.AttrExclusive|uefi.AttrByDriver) != 0
	if exclusive {
		if _, ok := f.handles[agent.Ptr()]; !ok {
			return fail(uefi.InvalidParameter)
		}
	}
	p, ok := h.protocols[g]
	if !ok {
		return fail(uefi.Unsupported)
	}

	if exclusive {
		var kept []openRecord
		for _, o := range p.opens {
			switch {
			case o.attrs&uefi.AttrExclusive != 0 && o.agent == agent:
				return fail(uefi.AlreadyStarted)
			case o.attrs&uefi.AttrExclusive != 0:
				return fail(uefi.AccessDenied)
			case attrs&uefi.AttrExclusive != 0 && o.attrs&uefi.AttrByDriver != 0:
				// The driver is disconnected to make way.
				glog.V(1).Infof("Disconnecting driver %v from %v", o.agent, target)
				h.connected = false
			default:
				kept = append(kept, o)
			}
		}
		p.opens = kept
	}
	if attrs&(uefi.AttrGetProtocol|uefi.AttrTestProtocol) == 0 {
		p.opens = append(p.opens, openRecord{agent: agent, controller: controller, attrs: attrs})
	}
	f.stats.Opens++
	if attrs&uefi.AttrTestProtocol != 0 {
		return 0, nil
	}
	return p.iface, nil
}

func (f *Firmware) CloseProtocol(target uefi.Handle, g uefi.GUID, agent, controller uefi.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("CloseProtocol"); err != nil {
		return err
	}
	h, ok := f.handles[target.Ptr()]
	if !ok || agent.IsNull() {
		return &uefi.StatusError{Op: "CloseProtocol", Status: uefi.InvalidParameter}
	}
	p, ok := h.protocols[g]
	if !ok {
		return &uefi.StatusError{Op: "CloseProtocol", Status: uefi.NotFound, Desc: g.String()}
	}
	for i, o := range p.opens {
		if o.agent == agent && o.controller == controller {
			p.opens = append(p.opens[:i], p.opens[i+1:]...)
			f.stats.Closes++
			return nil
		}
	}
	return &uefi.StatusError{Op: "CloseProtocol", Status: uefi.NotFound, Desc: fmt.Sprintf("%v not opened by %v", g, agent)}
}

func (f *Firmware) ConnectController(controller, driverImage uefi.Handle, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live("ConnectController"); err != nil {
		return err
	}
	h, ok := f.handles[controller.Ptr()]
	if !ok {
		return &uefi.StatusError{Op: "ConnectController", Status: uefi.InvalidParameter}
	}
	if !h.connectable {
		return &uefi.StatusError{Op: "ConnectController", Status: uefi.NotFound, Desc: "no driver"}
	}
	h.connected = true
	f.stats.Connects++
	return nil
}
