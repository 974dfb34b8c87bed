// Bus Channel Multiplexer (BCM)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bus implements the Bus Channel Multiplexer: a byte-oriented,
// framed, per-channel bidirectional messaging layer driven by a hardware
// DMA ring, bridging a legacy 8-bit host CPU to a fixed number of device
// channels.
//
// Core is not safe for concurrent use: Task and EnqueueReply must be called
// from the same cooperative context (there is no main-loop goroutine of its
// own), matching the single-threaded scheduling model the bus core is
// specified against. The only state shared with interrupt context is the
// DMA engine's epoch counter, owned by the dma package.
package bus

import (
	"errors"

	"github.com/usbarmory/chanbridge/dma"
)

// MaxChannels is the normative cap on channel count (spec §3): the
// interface boundary supports up to 128 in an RX-only variant, but this
// core rejects anything above 8.
const MaxChannels = 8

// MaxPayload is the largest payload length accepted on a write and the
// largest reply staged per read-request (spec §3, §4.3): 254, reserving
// 0xFF as the read "not ready" sentinel.
const MaxPayload = 254

// RxRingSize is the default hardware ring size for the large bus variant
// (spec §4.1): 32 KiB.
const RxRingSize = 32 * 1024

var (
	// ErrTooManyChannels is returned by New when channels exceeds
	// MaxChannels.
	ErrTooManyChannels = errors.New("bus: channel count exceeds MaxChannels")

	// ErrDMAExhausted is the init-fatal error for DMA channel
	// exhaustion (spec §4.7, §7).
	ErrDMAExhausted = errors.New("bus: DMA channel exhausted")
)

// State is the bus protocol parser state (spec §3).
type State int

const (
	StateIdle State = iota
	StateGotDevice
	StateReceiving
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGotDevice:
		return "GOT_DEVICE"
	case StateReceiving:
		return "RECEIVING"
	case StateSending:
		return "SENDING"
	default:
		return "UNKNOWN"
	}
}

// Handler receives a completed write transaction's payload. The slice is
// only valid for the duration of the call: it may be a zero-copy view into
// the DMA ring, invalidated by the ring wrapping under the handler's feet
// (spec §4.2, §9 "function-pointer callbacks with raw ring pointers").
// Handlers that need to retain the data must copy it before returning.
type Handler func(channel int, payload []byte)

// Core is an owned bus multiplexer instance, replacing the original
// firmware's module-level globals: every piece of parser, ring and statistics state lives here, created by
// New and driven exclusively by Task.
type Core struct {
	n        int
	handlers []Handler

	ring     *dma.Ring
	txEngine dma.Engine

	state State

	// parser working state
	curDevice  int
	curLen     int
	received   int
	txnStartAt uint32 // total_read snapshot at transaction start, for bankruptcy check

	pendingReadRequest bool
	pendingReadDevice  int
	txUnderflowLatched bool

	channels [MaxChannels]ctb

	stitch  [MaxPayload]byte       // BPP payload accumulation/stitch buffer
	scratch [MaxPayload + 1]uint32 // word-wide OTD staging buffer

	stats Stats

	// Debug, when non-nil, receives the one-line bankruptcy diagnostic
	// mandated by spec §7; it is nil by default so the cooperative loop
	// never blocks on I/O.
	Debug func(format string, args ...any)
}

// New creates a bus multiplexer for the given channel count, backed by rxRing
// (the receive DMA ring, spec §4.1) and txEngine (the one-shot reply
// transmitter, spec §4.3). channels must not exceed MaxChannels.
func New(channels int, rxRing *dma.Ring, txEngine dma.Engine) (*Core, error) {
	if channels <= 0 || channels > MaxChannels {
		return nil, ErrTooManyChannels
	}

	if rxRing == nil || txEngine == nil {
		return nil, ErrDMAExhausted
	}

	c := &Core{
		n:        channels,
		handlers: make([]Handler, channels),
		ring:     rxRing,
		txEngine: txEngine,
	}

	c.ring.SetOverrunCounter(&c.stats.RxDmaOverruns)

	return c, nil
}

// Start transitions the core to its running state. In this abstraction the
// hardware DMA engines are already running once constructed (New wires
// them); Start exists as the documented lifecycle hook the façade spec
// calls for and resets parser state to IDLE.
func (c *Core) Start() error {
	c.state = StateIdle
	return nil
}

// Stop aborts any in-flight reply DMA and returns the parser to IDLE.
func (c *Core) Stop() {
	c.txEngine.Abort()
	c.state = StateIdle
	c.pendingReadRequest = false
}

// RegisterHandler installs the receive handler for channel. Passing nil
// clears a previously registered handler.
func (c *Core) RegisterHandler(channel int, h Handler) error {
	if channel < 0 || channel >= c.n {
		return errors.New("bus: invalid channel")
	}

	c.handlers[channel] = h

	return nil
}

// EnqueueReply stages data bytes for channel, to be emitted on the next
// read-request serviced by the one-shot TX dispatcher. It returns the
// number of bytes actually queued, which is less than len(data) if the
// per-channel buffer (MaxBufferSize bytes) is full (spec §4.4, §7
// "capacity" errors return a short write; caller decides).
func (c *Core) EnqueueReply(channel int, data []byte) (int, error) {
	if channel < 0 || channel >= c.n {
		return 0, errors.New("bus: invalid channel")
	}

	n := c.channels[channel].write(data)

	return n, nil
}

// ClearChannel discards any reply bytes queued for channel.
func (c *Core) ClearChannel(channel int) error {
	if channel < 0 || channel >= c.n {
		return errors.New("bus: invalid channel")
	}

	c.channels[channel].reset()

	return nil
}

// State returns the current bus protocol parser state.
func (c *Core) State() State {
	return c.state
}
