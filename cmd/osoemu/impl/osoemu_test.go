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

package impl

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	goelf "debug/elf"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oso-os/oso-loader/elf"
	"github.com/oso-os/oso-loader/internal/elftest"
	"github.com/oso-os/oso-loader/loader/config"
	"golang.org/x/mod/sumdb/note"
)

func kernel() []byte {
	return elftest.Image{
		Machine: goelf.EM_AARCH64,
		Entry:   0x40200000,
		Segments: []elftest.Segment{
			{Type: elf.Load, Flags: elf.R | elf.X, Addr: 0x40200000, Data: bytes.Repeat([]byte{0x5f, 0x20, 0x03, 0xd5}, 16)},
			{Type: elf.Load, Flags: elf.R | elf.W, Addr: 0x40201000, Data: []byte{1, 2, 3}, MemSize: 0x800},
		},
	}.Bytes()
}

func bootDir(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, b := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, b, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestBootEmulated(t *testing.T) {
	k := kernel()
	sum := sha256.Sum256(k)
	goodConf := []byte(`{"kernel": ["boot/oso.elf", "` + hex.EncodeToString(sum[:]) + `"], "verify_dtb": true, "bootargs": "console=ttyAMA0"}`)
	badConf := []byte(`{"kernel": ["boot/oso.elf", "` + strings.Repeat("00", sha256.Size) + `"]}`)

	skey, vkey, err := note.GenerateKey(rand.Reader, "oso-boot")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatal(err)
	}
	signed, err := note.Sign(&note.Note{Text: string(goodConf) + "\n"}, signer)
	if err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		desc      string
		files     map[string][]byte
		opts      Opts
		wantErr   bool
		wantEntry bool
	}{
		{
			desc:      "default kernel path",
			files:     map[string][]byte{"oso_kernel.elf": k},
			wantEntry: true,
		}, {
			desc:      "configured kernel",
			files:     map[string][]byte{"boot/oso.elf": k, config.DefaultPath: goodConf},
			opts:      Opts{StaleKeys: 2},
			wantEntry: true,
		}, {
			desc:      "signed configuration",
			files:     map[string][]byte{"boot/oso.elf": k, config.DefaultPath: signed},
			opts:      Opts{ConfigPubKey: vkey},
			wantEntry: true,
		}, {
			desc:    "unsigned configuration with key",
			files:   map[string][]byte{"boot/oso.elf": k, config.DefaultPath: goodConf},
			opts:    Opts{ConfigPubKey: vkey},
			wantErr: true,
		}, {
			desc:    "hash mismatch",
			files:   map[string][]byte{"boot/oso.elf": k, config.DefaultPath: badConf},
			wantErr: true,
		}, {
			desc:    "wrong architecture",
			files:   map[string][]byte{"oso_kernel.elf": k},
			opts:    Opts{Arch: "amd64"},
			wantErr: true,
		}, {
			desc:    "no kernel",
			files:   map[string][]byte{"readme": []byte("hi")},
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			var out bytes.Buffer
			o := test.opts
			o.KernelDir = bootDir(t, test.files)
			o.Out = &out
			if o.Arch == "" {
				o.Arch = "arm64"
			}

			err := Main(o)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Main: %v, wantErr %v\n%s", err, test.wantErr, out.String())
			}
			if got := strings.Contains(out.String(), "Entering kernel at 0x40200000"); got != test.wantEntry {
				t.Errorf("kernel entered: %v, want %v\n%s", got, test.wantEntry, out.String())
			}
			if test.wantEntry && !strings.Contains(out.String(), "kernel-executing") {
				t.Errorf("final state missing from output:\n%s", out.String())
			}
		})
	}
}

func TestMainRejectsBadVolumeFlags(t *testing.T) {
	for _, o := range []Opts{
		{Arch: "arm64"},
		{Arch: "arm64", KernelDir: t.TempDir(), KernelImage: "disk.img"},
		{Arch: "riscv64", KernelDir: t.TempDir()},
	} {
		if err := Main(o); err == nil {
			t.Errorf("Main(%+v) succeeded", o)
		}
	}
}
