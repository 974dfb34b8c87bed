// SPI Slave Transport (SST)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spi implements the SPI Slave Transport: a three-command
// (WRITE/REQUEST/READ) SPI-slave protocol with a software READY handshake
// guaranteeing the master never begins a READ until the slave's reply DMA
// is fully armed (spec §1, §4.5, §4.6).
//
// Core is not safe for concurrent use from more than one cooperative
// context: Task, Enqueue and CSRisingEdge's non-ISR bookkeeping must run
// from the single main loop the rest of this firmware family assumes (spec
// §5). CSRisingEdge is the one method called from interrupt context; of the
// fields it writes, only the transaction-ready flag is atomic.
package spi

import (
	"errors"

	"github.com/usbarmory/chanbridge/dma"
	"github.com/usbarmory/chanbridge/internal/reg"
)

// MaxPayload is the largest WRITE payload and REQUEST/READ reply payload
// (spec §3, §4.5): 1500 bytes.
const MaxPayload = 1500

// FrameSize is SPI_SLAVE_READ_SIZE (spec §3, §6.2): the fixed MISO reply
// frame length, LEN_HI + LEN_LO + BUF + 1500 payload bytes.
const FrameSize = 3 + MaxPayload

// readDummyBytes is the don't-care byte count following a READ command
// byte on MOSI (spec §6.2): 1502.
const readDummyBytes = 1502

const (
	cmdWrite   = 0x01
	cmdRequest = 0x02
	cmdRead    = 0x03
)

// ErrDMAExhausted is the init-fatal error for DMA channel exhaustion
// (spec §4.7, §7).
var ErrDMAExhausted = errors.New("spi: DMA channel exhausted")

// State is the SPI handshake state (spec §3, §4.6).
type State int

const (
	StateIdle State = iota
	StateRequested
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequested:
		return "REQUESTED"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// parsePhase tracks SFP's progress through a multi-byte command, distinct
// from the public handshake State (a WRITE's length/payload bytes are
// parsed while the handshake state stays IDLE).
type parsePhase int

const (
	phaseCommand parsePhase = iota
	phaseLenHi
	phaseLenLo
	phasePayload
	phaseReadDummy
)

// Handler receives a completed WRITE's payload. The slice is only valid
// for the duration of the call (spec §4.5's zero-copy dispatch discipline,
// same as the bus core); callers that need to retain it must copy first.
type Handler func(payload []byte)

// Core is an owned SPI Slave Transport instance, replacing the original
// firmware's module-level globals.
type Core struct {
	ring     *dma.Ring
	txEngine dma.Engine

	queue txQueue

	state State
	phase parsePhase

	curLen       int
	received     int
	txnStartAt   uint32
	dummyLeft    int
	lastFrameLen int

	onWrite Handler

	// readyPin and irqPin, when non-nil, are called with the pin's
	// logical assertion state (true = asserted); both pins are
	// active-low at the electrical level, owned by an external
	// collaborator (spec §1, §6.3).
	readyPin func(asserted bool)
	irqPin   func(asserted bool)

	// transactionReady is set by CSRisingEdge from interrupt context
	// and consumed by the cooperative loop; it crosses the ISR/main
	// boundary and so is backed by an atomic flag (spec §5).
	transactionReady reg.Flag
	csWriteIdxAtEdge uint32

	stitch  [MaxPayload]byte
	scratch [FrameSize]uint32

	stats Stats

	// Debug, when non-nil, receives the one-line bankruptcy diagnostic
	// mandated by spec §7.
	Debug func(format string, args ...any)
}

// New creates an SPI Slave Transport core backed by rxRing (the MOSI
// receive ring, spec §4.1) and txEngine (the MISO one-shot reply
// transmitter, spec §4.6).
func New(rxRing *dma.Ring, txEngine dma.Engine) (*Core, error) {
	if rxRing == nil || txEngine == nil {
		return nil, ErrDMAExhausted
	}

	return &Core{
		ring:     rxRing,
		txEngine: txEngine,
	}, nil
}

// Start transitions the core to its running state and asserts IRQ once to
// signal init completion (spec §4.6 "(b) init has completed").
func (c *Core) Start() error {
	c.state = StateIdle
	c.phase = phaseCommand

	if c.irqPin != nil {
		c.irqPin(true)
	}

	return nil
}

// Stop aborts any in-flight reply DMA and returns the core to IDLE.
func (c *Core) Stop() {
	c.txEngine.Abort()
	c.state = StateIdle
	c.phase = phaseCommand

	if c.readyPin != nil {
		c.readyPin(false)
	}
}

// SetPins wires the READY-out and IRQ-out pin drivers (spec §6.3). Either
// may be nil, in which case the corresponding signal is not driven (useful
// in tests that only care about protocol state).
func (c *Core) SetPins(ready, irq func(asserted bool)) {
	c.readyPin = ready
	c.irqPin = irq
}

// RegisterHandler installs the WRITE receive handler. Passing nil clears a
// previously registered handler.
func (c *Core) RegisterHandler(h Handler) {
	c.onWrite = h
}

// Enqueue stages data bytes to be drained into the next REQUEST/READ reply
// frame. It returns the number of bytes actually queued, which is less
// than len(data) if the TX queue (QueueSize bytes) is full (spec §4.4
// analogue, §7 "capacity" errors return a short write).
func (c *Core) Enqueue(data []byte) int {
	n := c.queue.enqueue(data)
	c.updateIRQ()
	return n
}

// Free returns the TX queue's remaining headroom in bytes.
func (c *Core) Free() int {
	return c.queue.free()
}

// State returns the current SPI handshake state.
func (c *Core) State() State {
	return c.state
}

// LastTransactionWriteIndex returns the ring write index observed at the
// most recent CS rising edge, a diagnostic snapshot (spec §4.6).
func (c *Core) LastTransactionWriteIndex() uint32 {
	return c.csWriteIdxAtEdge
}

// CSRisingEdge is the CS rising-edge ISR (spec §4.6, §5): it snapshots the
// DMA write pointer, closes a READY cycle back to IDLE, and signals the
// cooperative loop that a transaction boundary occurred. It writes the
// snapshot field and the atomic flag and, when closing a READY cycle, the
// handshake state and the READY pin; only the flag is an atomic cell.
func (c *Core) CSRisingEdge() {
	c.csWriteIdxAtEdge = c.ring.WriteIndex()

	if c.state == StateReady {
		c.state = StateIdle

		if c.readyPin != nil {
			c.readyPin(false)
		}
	}

	c.transactionReady.Set()
}
