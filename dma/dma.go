// DMA ring abstraction
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides the DMA Ring Reader (DRR) described in the bus and
// SPI core specifications: a consistent read index and monotone byte count
// over a hardware-produced circular byte stream, plus the abstraction
// boundary (Engine) for the concrete DMA/PIO hardware that every firmware
// variant wires in differently.
//
// This package never touches memory-mapped registers directly; the concrete
// engines (PIO state machine plus DMA channel pairs) are external
// collaborators, same as tamago's soc-specific drivers sit behind the
// peripheral interfaces of their own packages.
package dma

import (
	"errors"

	"github.com/usbarmory/chanbridge/internal/reg"
)

// ErrNotPowerOfTwo is returned by NewRing when the requested size is not a
// power of two, violating the ring-index masking invariant of spec §3.
var ErrNotPowerOfTwo = errors.New("dma: ring size must be a power of two")

// Engine is the abstraction boundary for the hardware-driven ring buffer
// (receive side) and the one-shot reply transfer (transmit side). Concrete
// engines are out of scope of this module; tests use a fake implementation.
type Engine interface {
	// EpochCount returns the hardware re-trigger count, incremented by
	// the DMA-completion interrupt.
	EpochCount() uint32

	// Remaining returns the current countdown-to-zero transfer count.
	// Read separately from EpochCount so that Ring can detect the tear
	// race between the two reads.
	Remaining() uint32

	// WriteIndex returns the current ring write index (mod ring size).
	WriteIndex() uint32

	// StartOneShot arms a one-shot transfer of the first n words of buf
	// and returns once armed; it does not block for completion.
	StartOneShot(buf []uint32, n int) error

	// Idle reports whether the last one-shot transfer has drained.
	Idle() bool

	// Abort cancels any in-flight one-shot transfer.
	Abort()
}

// Ring implements the DMA Ring Reader (DRR) contract: a power-of-two byte
// array fed by a hardware-maintained write index, consumed by a
// software-maintained read index, with overrun detection and the
// epoch/remaining reconstruction of total bytes written.
type Ring struct {
	buf    []byte
	mask   uint32
	engine Engine

	readIdx   uint32
	totalRead uint32

	// overruns is incremented by Sync from the cooperative context that
	// calls it; it is not touched from interrupt context and so needs no
	// atomic, unlike the epoch counter inside Engine.
	overruns *uint32
}

// NewRing wraps buf (whose length must be a power of two, matching the
// hardware write index's masking) as a DMA Ring Reader fed by engine. buf is
// owned by the caller: on real hardware it is the address the DMA engine
// was configured to write into, so its allocation and the engine's
// configuration happen together, outside this package's abstraction
// boundary (spec §1).
func NewRing(buf []byte, engine Engine) (*Ring, error) {
	size := len(buf)

	if size <= 0 || size&(size-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}

	return &Ring{
		buf:    buf,
		mask:   uint32(size - 1),
		engine: engine,
	}, nil
}

// SetOverrunCounter wires a counter to be incremented every time Sync
// detects an overrun (spec §4.1's rx_dma_overruns). Separated from NewRing
// because the counter usually lives in a façade's Stats struct, allocated
// after the ring itself.
func (r *Ring) SetOverrunCounter(overruns *uint32) {
	r.overruns = overruns
}

// Buffer returns the ring's backing array, for callers that need its
// address to configure the matching hardware engine.
func (r *Ring) Buffer() []byte {
	return r.buf
}

// Size returns the ring's byte capacity.
func (r *Ring) Size() int {
	return len(r.buf)
}

// TotalRead returns the software read counter, useful for a BPP/SFP to
// snapshot the value at transaction start for the post-dispatch bankruptcy
// check of spec §4.2/§4.5.
func (r *Ring) TotalRead() uint32 {
	return r.totalRead
}

// totalWritten reconstructs the monotone total-bytes-written counter from
// the hardware's down-counting "remaining" register and the software
// re-trigger epoch, retrying across the epoch/remaining tear race and
// correcting for a re-trigger-before-interrupt window (spec §4.1).
func (r *Ring) totalWritten() uint32 {
	size := uint32(len(r.buf))

	var total uint32

	for {
		e1 := r.engine.EpochCount()
		reg.Fence()
		remaining := r.engine.Remaining()
		reg.Fence()
		e2 := r.engine.EpochCount()

		if e1 != e2 {
			continue
		}

		total = e1*size + (size - remaining)
		break
	}

	// Hardware may have already reset remaining to size and not yet
	// bumped epoch: detect by signed comparison against the last
	// persisted total and correct by one ring size.
	if int32(total-r.totalRead) < 0 {
		total += size
	}

	return total
}

// Unread returns the number of bytes available to read without blocking. It
// does not itself perform overrun correction; call Sync first in the same
// tick if staleness matters (the bus/SPI cores always do).
func (r *Ring) Unread() int {
	return int(r.totalWritten() - r.totalRead)
}

// Sync reconciles the read index against the hardware write index and
// reports whether an overrun occurred (total_written - total_read > size).
// On overrun the read index is snapped to the current write index, the
// read/written counters are equalized, and the overrun counter (if any) is
// incremented exactly once; the caller is responsible for resetting its
// parser state machine to IDLE, per spec §4.1 and §7.
func (r *Ring) Sync() (overran bool) {
	total := r.totalWritten()
	size := uint32(len(r.buf))

	if total-r.totalRead > size {
		r.readIdx = r.engine.WriteIndex() & r.mask
		r.totalRead = total

		if r.overruns != nil {
			*r.overruns++
		}

		return true
	}

	return false
}

// Resync snaps the read position to the current hardware write index
// without touching the overrun counter, used by a consumer-level
// bankruptcy recovery (spec §4.2, §7) that has its own counter.
func (r *Ring) Resync() {
	r.readIdx = r.engine.WriteIndex() & r.mask
	r.totalRead = r.totalWritten()
}

// ReadByte consumes and returns the next unread byte. The caller must have
// verified Unread() > 0.
func (r *Ring) ReadByte() byte {
	b := r.buf[r.readIdx]
	r.readIdx = (r.readIdx + 1) & r.mask
	r.totalRead++
	return b
}

// ReadInto consumes exactly n bytes starting at the current read index. If
// the run is contiguous within the backing array it returns a slice
// pointing directly into the ring (zero-copy, valid only until the next
// mutation of the ring); otherwise it copies the wrapped run into stitch
// (which must have length >= n) and returns that slice instead.
//
// This mirrors the stitch-buffer fallback spec'd for both the bus protocol
// parser (§4.2) and the SPI frame parser (§4.5).
func (r *Ring) ReadInto(stitch []byte, n int) []byte {
	size := uint32(len(r.buf))
	start := r.readIdx

	var out []byte

	if start+uint32(n) <= size {
		out = r.buf[start : start+uint32(n)]
	} else {
		first := size - start
		copy(stitch[:first], r.buf[start:])
		copy(stitch[first:n], r.buf[:uint32(n)-first])
		out = stitch[:n]
	}

	r.readIdx = (r.readIdx + uint32(n)) & r.mask
	r.totalRead += uint32(n)

	return out
}

// WriteIndex returns the hardware write index as last observed (mod size).
// Exposed for callers that need to snapshot it directly, such as the SPI
// handshake engine's CS rising-edge handler.
func (r *Ring) WriteIndex() uint32 {
	return r.engine.WriteIndex()
}
