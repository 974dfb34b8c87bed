// Cross-context flag primitives
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides the strict-read/write primitives used for the small
// set of cells shared between an interrupt handler and the cooperative main
// loop: the DMA epoch counter, the transaction-ready flag and the keyboard
// acknowledge flag. Everything else in the bus and SPI cores is touched only
// from the cooperative context and needs no synchronization at all.
package reg

import "sync/atomic"

// Flag is a single boolean set by an interrupt handler and cleared by the
// cooperative loop (or vice versa). It is the Go-native replacement for the
// raw register bit tamago's reg.Get/reg.Set poll in hardware: no address, no
// cache maintenance, just an atomic cell.
type Flag struct {
	v atomic.Bool
}

// Set raises the flag. Called from interrupt context.
func (f *Flag) Set() {
	f.v.Store(true)
}

// Clear lowers the flag. Called from either context.
func (f *Flag) Clear() {
	f.v.Store(false)
}

// IsSet reports the current flag value.
func (f *Flag) IsSet() bool {
	return f.v.Load()
}

// TestAndClear atomically reads and clears the flag, returning the value
// observed before clearing. Used by the main loop to consume a one-shot
// interrupt signal without losing a concurrent Set.
func (f *Flag) TestAndClear() bool {
	return f.v.Swap(false)
}

// Counter32 is a monotone counter incremented from interrupt context and
// read from the cooperative loop, such as the DMA re-trigger epoch of
// spec §4.1.
type Counter32 struct {
	v atomic.Uint32
}

// Inc increments the counter by one, wrapping on overflow.
func (c *Counter32) Inc() {
	c.v.Add(1)
}

// Load returns the current counter value.
func (c *Counter32) Load() uint32 {
	return c.v.Load()
}

// Fence marks a point where a dependent pair of cross-context reads must
// not be reordered by the compiler, matching the epoch-then-remaining read
// order mandated by spec §4.1 and §5. On the Go memory model atomic loads
// already carry the necessary ordering; this call documents the boundary
// the way the original C implementation relied on an explicit compiler
// barrier between the two volatile reads.
func Fence() {}
