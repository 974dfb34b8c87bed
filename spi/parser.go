// SPI Frame Parser (SFP) and SPI Handshake Engine (SHE)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spi

// Task runs one iteration of the cooperative SPI loop (spec §5): it
// reconciles the RX ring against the hardware write index, parses as many
// complete commands as are currently available, and clears the CS-edge
// signal it consumed. It never blocks.
func (c *Core) Task() {
	c.transactionReady.TestAndClear()

	if c.ring.Sync() {
		// DMA overrun: resync to write index, drop back to a clean
		// parse state (spec §4.1, §7).
		c.phase = phaseCommand
		c.state = StateIdle
	} else {
		for c.ring.Unread() > 0 {
			if c.step() {
				// Bankruptcy: abort the remainder of this
				// tick's processing (spec §4.2 analogue for SFP).
				break
			}
		}
	}
}

// step consumes exactly one protocol-level unit of work from the ring and
// returns true if a bankruptcy was detected and the caller should stop
// processing further bytes this tick.
func (c *Core) step() (bankrupt bool) {
	switch c.phase {
	case phaseCommand:
		c.startCommand()
		return false

	case phaseLenHi:
		c.readLenHi()
		return false

	case phaseLenLo:
		c.readLenLo()
		return false

	case phasePayload:
		return c.receivePayload()

	case phaseReadDummy:
		c.consumeReadDummy()
		return false
	}

	return false
}

// startCommand consumes the command byte and dispatches to the matching
// sub-protocol (spec §4.5, §6.2).
func (c *Core) startCommand() {
	startTotalRead := c.ring.TotalRead()
	b := c.ring.ReadByte()

	switch b {
	case cmdWrite:
		c.txnStartAt = startTotalRead
		c.phase = phaseLenHi

	case cmdRequest:
		c.stats.Requests++
		c.state = StateRequested
		c.stage()

	case cmdRead:
		c.dummyLeft = readDummyBytes
		c.phase = phaseReadDummy

	default:
		c.stats.ProtoErrors++
		c.ring.Resync()
	}
}

// readLenHi consumes the high byte of a WRITE's big-endian length field.
func (c *Core) readLenHi() {
	b := c.ring.ReadByte()
	c.curLen = int(b) << 8
	c.phase = phaseLenLo
}

// readLenLo consumes the low byte of a WRITE's length field and validates
// it against MaxPayload (spec §4.5 "Bounds").
func (c *Core) readLenLo() {
	b := c.ring.ReadByte()
	c.curLen |= int(b)

	if c.curLen > MaxPayload {
		c.stats.ProtoErrors++
		c.ring.Resync()
		c.phase = phaseCommand
		return
	}

	c.received = 0

	if c.curLen == 0 {
		c.stats.RxWrites++
		c.phase = phaseCommand
		return
	}

	c.phase = phasePayload
}

// receivePayload consumes as much of the remaining WRITE payload as the
// ring currently holds, dispatching zero-copy when the whole payload
// arrives contiguously in one call and stitching otherwise (same
// discipline as the bus core's BPP, spec §4.2/§4.5).
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
			return false
		}

		payload = c.stitch[:c.curLen]
	}

	c.stats.RxWrites++
	c.stats.RxBytes += uint32(len(payload))

	if c.onWrite != nil {
		c.onWrite(payload)
	} else {
		// No handler registered: the payload is dropped, mirroring the
		// original firmware's rx_overflows counter (bridge/spi_slave.h).
		c.stats.RxOverflows++
	}

	// Bankruptcy check: did the ring wrap past this WRITE's starting
	// position while the handler ran? (spec §4.2, §7, analogous P6 for SFP)
	if c.ring.TotalRead()+uint32(c.ring.Unread())-c.txnStartAt > uint32(c.ring.Size()) {
		c.ring.Resync()
		c.phase = phaseCommand

		if c.Debug != nil {
			c.Debug("spi: bankruptcy during WRITE dispatch")
		}

		return true
	}

	c.phase = phaseCommand

	return false
}

// consumeReadDummy discards the 1502 don't-care bytes following a READ
// command byte (spec §6.2); the meaningful transfer happens on MISO via
// the DMA armed by stage, not on this RX path.
func (c *Core) consumeReadDummy() {
	avail := c.ring.Unread()

	n := c.dummyLeft
	if n > avail {
		n = avail
	}

	if n == 0 {
		return
	}

	for i := 0; i < n; i++ {
		c.ring.ReadByte()
	}

	c.dummyLeft -= n

	if c.dummyLeft == 0 {
		c.stats.TxReads++
		c.stats.TxBytes += uint32(c.lastFrameLen)
		c.phase = phaseCommand
	}
}

// stage implements the SPI Handshake Engine's REQUEST staging (spec
// §4.6): drain up to MaxPayload queued bytes, build the
// [LEN_HI, LEN_LO, BUF] header, zero-pad, arm the one-shot MISO DMA and
// assert READY only after arming (P5, the handshake atomicity property).
func (c *Core) stage() {
	var payload [MaxPayload]byte

	n := c.queue.drain(payload[:], MaxPayload)

	free := c.ring.Size() - c.ring.Unread()
	bufUnits := free / 64
	if bufUnits > 255 {
		bufUnits = 255
	}

	c.scratch[0] = uint32(n >> 8)
	c.scratch[1] = uint32(n & 0xff)
	c.scratch[2] = uint32(bufUnits)

	for i := 0; i < MaxPayload; i++ {
		if i < n {
			c.scratch[3+i] = uint32(payload[i])
		} else {
			c.scratch[3+i] = 0
		}
	}

	c.lastFrameLen = n

	if err := c.txEngine.StartOneShot(c.scratch[:FrameSize], FrameSize); err != nil {
		c.state = StateIdle
		return
	}

	if c.readyPin != nil {
		c.readyPin(true)
	}

	c.state = StateReady
	c.updateIRQ()
}

// updateIRQ drives the IRQ-out pin per spec §4.6: asserted while the TX
// queue holds bytes and the handshake is idle, deasserted once a REQUEST
// has been parsed (the master is now handling us).
func (c *Core) updateIRQ() {
	if c.irqPin == nil {
		return
	}

	c.irqPin(c.queue.count > 0 && c.state == StateIdle)
}
