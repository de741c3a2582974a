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

//go:build tamago && amd64

package main

import (
	"runtime"
	_ "unsafe"

	"github.com/usbarmory/tamago/amd64"
	"github.com/usbarmory/tamago/soc/intel/rtc"
	"github.com/usbarmory/tamago/soc/intel/uart"
)

// COM1 is the legacy serial port used for runtime output.
const COM1 = 0x3f8

var (
	cpu   = &amd64.CPU{}
	uart0 = &uart.UART{
		Index: 1,
		Base:  COM1,
	}
)

// set in entry_amd64.s
var (
	imageHandle uint64
	systemTable uint64
)

// defined in entry_amd64.s
func halt()

//go:linkname ramStart runtime.ramStart
var ramStart uint64 = 0x40000000

//go:linkname ramSize runtime.ramSize
var ramSize uint64 = 0x10000000

//go:linkname nanotime1 runtime.nanotime1
func nanotime1() int64 {
	return int64(float64(cpu.TimerFn())*cpu.TimerMultiplier) + cpu.TimerOffset
}

//go:linkname printk runtime.printk
func printk(c byte) {
	uart0.Tx(c)
}

//go:linkname hwinit runtime.hwinit
func hwinit() {
	cpu.Init()
	uart0.Init()

	runtime.Exit = func(_ int32) {
		halt()
	}
}

func init() {
	if t, err := (&rtc.RTC{}).Now(); err == nil {
		cpu.SetTimer(t.UnixNano())
	}
}
