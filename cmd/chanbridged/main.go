// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command chanbridged wires a bus.Core, an spi.Core and a via.Core to the
// USB Armory Mk II board's engines and pins and runs their cooperative
// loops. It is a composition-root demo, not part of the tested protocol
// surface (SPEC_FULL.md §6.5): the concrete DMA/PIO engines and GPIO pins
// this demo asks the board package for are external collaborators out of
// scope of this repository (spec.md §1), so on a non-firmware host build
// it logs why it cannot run and exits.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/usbarmory/chanbridge/board/usbarmory/mk2"
	"github.com/usbarmory/chanbridge/bus"
	"github.com/usbarmory/chanbridge/spi"
)

const verbose = true

// tick is the cooperative main loop period; the bus and SPI cores
// themselves never block, so this is purely a scheduling choice for this
// demo, not a protocol parameter.
const tick = 100 * time.Microsecond

func init() {
	log.SetFlags(0)

	if verbose {
		log.SetOutput(os.Stdout)
	}
}

func main() {
	log.Printf("chanbridged: starting")

	keyboard := mk2.NewKeyboard()
	go keyboard.Run(context.Background(), tick)

	busRX, busTX, err := mk2.NewBusEngines()
	if err != nil {
		log.Printf("chanbridged: bus engines unavailable: %v", err)
		return
	}

	busCore, err := bus.New(bus.MaxChannels, busRX, busTX)
	if err != nil {
		log.Fatalf("chanbridged: bus.New: %v", err)
	}

	busCore.Debug = log.Printf

	busCore.RegisterHandler(0, func(channel int, payload []byte) {
		log.Printf("chanbridged: bus channel %d: %x", channel, payload)
		busCore.EnqueueReply(channel, payload)
	})

	if err := busCore.Start(); err != nil {
		log.Fatalf("chanbridged: bus.Start: %v", err)
	}

	spiRX, spiTX, err := mk2.NewSPIEngines()
	if err != nil {
		log.Printf("chanbridged: spi engines unavailable: %v, running bus only", err)

		for {
			busCore.Task()
			time.Sleep(tick)
		}
	}

	spiCore, err := spi.New(spiRX, spiTX)
	if err != nil {
		log.Fatalf("chanbridged: spi.New: %v", err)
	}

	spiCore.Debug = log.Printf

	spiCore.RegisterHandler(func(payload []byte) {
		log.Printf("chanbridged: spi write: %d bytes", len(payload))
	})

	if err := spiCore.Start(); err != nil {
		log.Fatalf("chanbridged: spi.Start: %v", err)
	}

	for {
		busCore.Task()
		spiCore.Task()
		time.Sleep(tick)
	}
}
