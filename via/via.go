// VIA keyboard handshake
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package via implements the 6522 VIA CA1/CA2 keyboard handshake
// supplemental to the bus and SPI cores (SPEC_FULL.md §3.7, grounded on
// original_source/keyboard_mcu/via_interface.c): a byte is placed on 8
// parallel data lines, CA1 is pulsed low to signal the host CPU, and CA2
// falling edge acknowledges receipt. A single keystroke ring buffer feeds
// the handshake state machine.
package via

import (
	"time"

	"github.com/usbarmory/chanbridge/internal/reg"
)

// BufferSize is the keystroke ring's slot count, a power of two matching
// the original firmware's mask-based indexing. One slot always stays empty
// to tell a full ring from an empty one, so at most BufferSize-1 keystrokes
// are queued at a time.
const BufferSize = 64

// SettleTime is how long data pins are held stable before CA1 is pulsed.
const SettleTime = 10 * time.Microsecond

// PulseWidth is how long CA1 is held low during a pulse.
const PulseWidth = 1 * time.Microsecond

// AckTimeout is the CA2 acknowledge deadline (spec §5): if CA2 does not
// fall within this window of a CA1 pulse, the byte is dropped.
const AckTimeout = 1 * time.Second

// State is the handshake state machine (spec §3.7).
type State int

const (
	StateIdle State = iota
	StateDataReady
	StateWaitingAck
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDataReady:
		return "DATA_READY"
	case StateWaitingAck:
		return "WAITING_ACK"
	default:
		return "UNKNOWN"
	}
}

// Stats is a read-only snapshot of the keyboard handshake counters.
type Stats struct {
	Sent     uint32
	Dropped  uint32
	Timeouts uint32
}

// ring is the 64-byte keystroke buffer; only push (via AddKeystroke) advances
// head, only Task (consumer) advances tail, both from the cooperative
// context (spec §5), so no locking is required.
type ring struct {
	buf  [BufferSize]byte
	head int
	tail int
}

func (r *ring) empty() bool { return r.head == r.tail }
func (r *ring) full() bool  { return (r.head+1)%BufferSize == r.tail }
func (r *ring) peek() byte  { return r.buf[r.tail] }
func (r *ring) pop()        { r.tail = (r.tail + 1) % BufferSize }

func (r *ring) push(b byte) bool {
	if r.full() {
		return false
	}

	r.buf[r.head] = b
	r.head = (r.head + 1) % BufferSize

	return true
}

// Core drives the VIA keyboard handshake. The data-pin and CA1 drivers are
// supplied to New and the clock defaults to time.Now; Core has no default
// hardware binding of its own (spec §1, pin bring-up is an external
// collaborator).
type Core struct {
	buf   ring
	state State

	pulseAt time.Time

	// ca2Ack is set by CA2FallingEdge from interrupt context and
	// consumed by Task; it crosses the ISR/main boundary (spec §5).
	ca2Ack reg.Flag

	dataPins func(byte)
	ca1      func(asserted bool)
	now      func() time.Time
	sleep    func(time.Duration)

	stats Stats

	Debug func(format string, args ...any)
}

// New creates a VIA handshake core. dataPins drives the 8 parallel data
// lines; ca1 drives the CA1 output (asserted = low, per the active-low
// pulse convention of spec §6.3).
func New(dataPins func(byte), ca1 func(asserted bool)) *Core {
	return &Core{
		dataPins: dataPins,
		ca1:      ca1,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// AddKeystroke enqueues a byte for delivery, returning false if the
// buffer is full (the byte is dropped, matching via_add_keystroke).
func (c *Core) AddKeystroke(b byte) bool {
	if !c.buf.push(b) {
		c.stats.Dropped++
		return false
	}

	return true
}

// BufferCount returns the number of keystrokes currently queued.
func (c *Core) BufferCount() int {
	return (c.buf.head - c.buf.tail + BufferSize) % BufferSize
}

// CA2FallingEdge is the CA2 GPIO interrupt handler (spec §3.7, §5): the
// host CPU has read the data pins. Safe to call from interrupt context.
func (c *Core) CA2FallingEdge() {
	c.ca2Ack.Set()
}

// State returns the current handshake state.
func (c *Core) State() State {
	return c.state
}

// Stats returns a copy of the current counters.
func (c *Core) Stats() Stats {
	return c.stats
}

// Task runs one iteration of the cooperative handshake loop (spec §5). It
// never blocks except for the CA1 pulse width itself; the pin-settle delay
// and the CA2 acknowledge timeout are polled across successive calls.
func (c *Core) Task() {
	switch c.state {
	case StateIdle:
		if c.buf.empty() {
			return
		}

		c.dataPins(c.buf.peek())
		c.pulseAt = c.now()
		c.state = StateDataReady

	case StateDataReady:
		if c.now().Sub(c.pulseAt) < SettleTime {
			return
		}

		c.ca1(true)
		c.sleep(PulseWidth)
		c.ca1(false)

		c.ca2Ack.Clear()
		c.pulseAt = c.now()
		c.state = StateWaitingAck

	case StateWaitingAck:
		if c.ca2Ack.TestAndClear() {
			c.buf.pop()
			c.stats.Sent++
			c.state = StateIdle
			return
		}

		if c.now().Sub(c.pulseAt) > AckTimeout {
			c.stats.Timeouts++
			c.buf.pop()
			c.state = StateIdle

			if c.Debug != nil {
				c.Debug("via: CA2 ack timeout, dropping keystroke")
			}
		}
	}
}
