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

// Package config reads the boot configuration, which names the kernel to
// boot and the digest it must have.
//
// The configuration is JSON:
//
//	{
//	  "kernel": ["oso_kernel.elf", "<sha256 hex>"],
//	  "verify_dtb": true
//	}
//
// When a verifier key is configured the file must instead be a signed note
// whose text is the JSON.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/oso-os/oso-loader/loader"
	"golang.org/x/mod/sumdb/note"
)

// DefaultPath is where the configuration is looked for on the boot volume.
const DefaultPath = "oso_boot.conf"

// Config is the boot configuration.
type Config struct {
	// Kernel is the path of the kernel image and, optionally, the hex
	// SHA-256 it must hash to.
	Kernel []string `json:"kernel"`
	// VerifyDeviceTree makes the loader check the device tree header.
	VerifyDeviceTree bool `json:"verify_dtb"`
	// Bootargs, if set, is written to /chosen/bootargs by firmware that
	// supports it.
	Bootargs string `json:"bootargs,omitempty"`

	hash []byte
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{Kernel: []string{loader.DefaultKernelPath}}
}

// Parse decodes an unsigned JSON configuration.
func Parse(raw []byte) (*Config, error) {
	c := Default()
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	switch len(c.Kernel) {
	case 0:
		c.Kernel = []string{loader.DefaultKernelPath}
	case 1, 2:
	default:
		return nil, errors.New("invalid kernel parameter size")
	}
	if c.Kernel[0] == "" {
		return nil, errors.New("empty kernel path")
	}
	if len(c.Kernel) == 2 && c.Kernel[1] != "" {
		h, err := hex.DecodeString(c.Kernel[1])
		if err != nil {
			return nil, fmt.Errorf("invalid kernel hash: %w", err)
		}
		if len(h) != sha256.Size {
			return nil, fmt.Errorf("kernel hash is %d bytes, want %d", len(h), sha256.Size)
		}
		c.hash = h
	}
	return c, nil
}

// ParseSigned verifies raw as a note signed by the holder of verifierKey
// and decodes its text.
func ParseSigned(raw []byte, verifierKey string) (*Config, error) {
	v, err := note.NewVerifier(verifierKey)
	if err != nil {
		return nil, fmt.Errorf("invalid verifier key: %w", err)
	}
	n, err := note.Open(raw, note.VerifierList(v))
	if err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	glog.V(1).Infof("Config signed by %s", n.Sigs[0].Name)
	return Parse([]byte(n.Text))
}

// Load decodes raw, requiring a signature when verifierKey is not empty.
func Load(raw []byte, verifierKey string) (*Config, error) {
	if verifierKey == "" {
		return Parse(raw)
	}
	return ParseSigned(raw, verifierKey)
}

// KernelPath returns the path of the kernel image.
func (c *Config) KernelPath() string {
	if len(c.Kernel) == 0 {
		return loader.DefaultKernelPath
	}
	return c.Kernel[0]
}

// KernelHash returns the expected SHA-256 of the kernel, or nil if the
// kernel is not checked.
func (c *Config) KernelHash() []byte {
	return c.hash
}

func (c *Config) String() string {
	j, _ := json.MarshalIndent(c, "", "\t")
	return string(j)
}
