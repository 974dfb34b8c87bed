// Bus Protocol Parser (BPP) and One-Shot TX Dispatcher (OTD)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bus

import "github.com/usbarmory/chanbridge/bits"

// Task runs one iteration of the cooperative bus loop (spec §5): it
// reconciles the RX ring against the hardware write index, parses as many
// complete commands as are currently available, and services the one-shot
// TX dispatcher. It never blocks.
func (c *Core) Task() {
	if c.ring.Sync() {
		// DMA overrun: the DRR has already resynced read_idx/total_read;
		// drop the parser state machine back to IDLE (spec §4.1, §7).
		c.state = StateIdle
		c.pendingReadRequest = false
	} else {
		for c.ring.Unread() > 0 {
			if c.step() {
				// Bankruptcy: abort the remainder of this tick's
				// processing (spec §4.2).
				break
			}
		}
	}

	c.otdTick()
}

// step consumes exactly one protocol-level unit of work from the ring and
// returns true if a bankruptcy was detected and the caller should stop
// processing further bytes this tick.
func (c *Core) step() (bankrupt bool) {
	switch c.state {
	case StateIdle, StateSending:
		// Spurious bytes during SENDING restart parsing as a new
		// command: last-command-wins (spec §4.2, §9).
		c.startCommand()
		return false

	case StateGotDevice:
		c.readLength()
		return false

	case StateReceiving:
		return c.receivePayload()
	}

	return false
}

// startCommand consumes the first byte of a new command: either a
// read-request (bit 7 set) or the device byte of a write.
func (c *Core) startCommand() {
	startTotalRead := c.ring.TotalRead()

	raw := uint32(c.ring.ReadByte())
	c.stats.RxBytes++

	dev := int(bits.GetN(&raw, 0, 0x7f))

	if bits.Get(&raw, 7) {
		// Read-request: last-writer-wins (spec §4.2).
		c.pendingReadRequest = true
		c.pendingReadDevice = dev
		c.state = StateIdle
		return
	}

	if dev >= c.n {
		// Invalid channel: discard the byte, stay IDLE (spec §4.2).
		c.state = StateIdle
		return
	}

	c.curDevice = dev
	c.received = 0
	c.txnStartAt = startTotalRead
	c.state = StateGotDevice
}

// readLength consumes the length byte of a write transaction.
func (c *Core) readLength() {
	b := c.ring.ReadByte()
	c.stats.RxBytes++

	if b == 0xff {
		// len == 255 is reserved by the read sentinel convention and
		// must never appear as a write length (SPEC_FULL.md §9).
		c.stats.ProtoErrors++
		c.ring.Resync()
		c.state = StateIdle
		return
	}

	c.curLen = int(b)
	c.received = 0

	if c.curLen == 0 {
		// Empty write: valid, handler not invoked (spec §4.2).
		c.state = StateIdle
		return
	}

	c.state = StateReceiving
}

// receivePayload consumes as much of the remaining payload as the ring
// currently holds. When the whole payload arrives in a single call it
// dispatches the view ReadInto returns (zero-copy into the ring when the run
// is contiguous, the stitch buffer when it wraps the ring end); otherwise
// bytes are accumulated into the per-core stitch buffer across calls, matching
// the zero-copy-with-stitch-fallback contract of spec §4.2.
func (c *Core) receivePayload() (bankrupt bool) {
	remaining := c.curLen - c.received
	avail := c.ring.Unread()

	n := remaining
	if n > avail {
		n = avail
	}

	if n == 0 {
		return false
	}

	whole := c.received == 0 && n == c.curLen
	chunk := c.ring.ReadInto(c.stitch[c.received:c.received+n], n)

	var payload []byte

	if whole {
		payload = chunk
	} else {
		copy(c.stitch[c.received:c.received+n], chunk)
		c.received += n

		if c.received < c.curLen {
			c.stats.RxBytes += uint32(n)
			return false
		}

		payload = c.stitch[:c.curLen]
	}

	c.stats.RxBytes += uint32(n)

	device := c.curDevice

	if h := c.handlers[device]; h != nil {
		h(device, payload)
	}

	// Bankruptcy check: did the ring wrap past the transaction's
	// starting position while the handler ran? (spec §4.2, §7, P6)
	if c.ring.TotalRead()+uint32(c.ring.Unread())-c.txnStartAt > uint32(c.ring.Size()) {
		c.stats.RxBankruptcies++
		c.ring.Resync()
		c.state = StateIdle

		if c.Debug != nil {
			c.Debug("bus: bankruptcy on channel %d, ring wrapped during handler", device)
		}

		return true
	}

	c.state = StateIdle

	return false
}

// otdTick runs the One-Shot TX Dispatcher (spec §4.3).
func (c *Core) otdTick() {
	if c.state == StateSending {
		if c.txEngine.Idle() {
			c.state = StateIdle
		} else {
			return
		}
	}

	if !c.pendingReadRequest {
		return
	}

	device := c.pendingReadDevice
	buf := &c.channels[device]

	if buf.count == 0 {
		if !c.txUnderflowLatched {
			c.stats.TxUnderflows++
			c.txUnderflowLatched = true
		}
		return
	}

	c.txUnderflowLatched = false

	var payload [MaxPayload]byte

	n := buf.drain(payload[:], MaxPayload)

	// Stage [length, data...] into a word-wide scratch buffer: the DMA
	// hardware transfers 32-bit words even though only the low byte is
	// meaningful to the host (spec §4.3, §9 "dual numeric widths").
	c.scratch[0] = uint32(n)
	for i := 0; i < n; i++ {
		c.scratch[i+1] = uint32(payload[i])
	}

	if err := c.txEngine.StartOneShot(c.scratch[:n+1], n+1); err != nil {
		return
	}

	c.stats.TxBytes += uint32(n)
	c.state = StateSending
	c.pendingReadRequest = false
}
