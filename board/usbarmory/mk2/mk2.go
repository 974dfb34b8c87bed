// USB Armory Mk II board wiring (demo)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mk2 wires the bus, spi and via cores to the USB Armory Mk II's
// concrete pins and DMA/PIO engines. This is a thin demo: pin bring-up and
// the PIO/DMA programs themselves are external collaborators out of scope
// of this repository (spec.md §1), the same way the teacher's board
// packages wire SoC peripherals without implementing the peripherals
// themselves.
package mk2

import (
	"errors"

	"github.com/usbarmory/chanbridge/dma"
	"github.com/usbarmory/chanbridge/via"
)

// ErrNoHardware is returned by the engine constructors on this host build:
// the concrete PIO/DMA programs are provided by a board-specific build tag
// this demo does not carry.
var ErrNoHardware = errors.New("mk2: no PIO/DMA hardware wired into this build")

// BusRXRingSize is the ring size the large bus variant expects on this
// board (spec.md §4.1).
const BusRXRingSize = 32 * 1024

// SPIRXRingSize is the ring size the SPI core expects on this board.
const SPIRXRingSize = 8 * 1024

// NewBusEngines would construct the PIO-driven RX ring and one-shot TX
// engine for the bus core. On a non-firmware host build there is no PIO
// hardware to bind to, so it reports ErrNoHardware; a board-specific build
// (outside this module's scope) supplies the real implementation.
func NewBusEngines() (*dma.Ring, dma.Engine, error) {
	return nil, nil, ErrNoHardware
}

// NewSPIEngines is the SPI-side analogue of NewBusEngines.
func NewSPIEngines() (*dma.Ring, dma.Engine, error) {
	return nil, nil, ErrNoHardware
}

// KeyboardPins wires the VIA keyboard handshake (spec.md §3.7) to the
// board's 8 data GPIOs and the CA1 output, mirroring
// original_source/keyboard_mcu/via_interface.c's DATA_PINS/CA1_PIN/CA2_PIN
// layout. Without real GPIO access in this build, the setters are no-ops.
func KeyboardPins() (dataPins func(byte), ca1 func(bool)) {
	return func(byte) {}, func(bool) {}
}

// NewKeyboard builds a via.Core wired to this board's pins.
func NewKeyboard() *via.Core {
	dataPins, ca1 := KeyboardPins()
	return via.New(dataPins, ca1)
}
