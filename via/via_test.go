// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package via

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically instead of sleeping
// for real, since AckTimeout is a full second.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestCore(t *testing.T) (*Core, *fakeClock, *byte) {
	t.Helper()

	clk := &fakeClock{t: time.Unix(0, 0)}

	var lastData byte

	c := New(func(b byte) { lastData = b }, func(bool) {})
	c.now = clk.now
	c.sleep = func(time.Duration) {}

	return c, clk, &lastData
}

func TestVIAHappyPathDeliversAndAcks(t *testing.T) {
	c, clk, lastData := newTestCore(t)

	c.AddKeystroke(0x41)
	c.Task() // IDLE -> DATA_READY, latches data pins

	if *lastData != 0x41 {
		t.Fatalf("data pins = %#x, want 0x41", *lastData)
	}

	clk.advance(SettleTime)
	c.Task() // DATA_READY -> WAITING_ACK, pulses CA1

	if c.State() != StateWaitingAck {
		t.Fatalf("state = %v, want WAITING_ACK", c.State())
	}

	c.CA2FallingEdge()
	c.Task() // WAITING_ACK -> IDLE, consumed

	if c.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", c.State())
	}

	if c.BufferCount() != 0 {
		t.Fatalf("BufferCount() = %d, want 0", c.BufferCount())
	}

	if s := c.Stats(); s.Sent != 1 || s.Timeouts != 0 {
		t.Fatalf("stats = %+v, want Sent=1 Timeouts=0", s)
	}
}

func TestVIATimeoutDropsByteAndResets(t *testing.T) {
	c, clk, _ := newTestCore(t)

	c.AddKeystroke(0x42)
	c.Task()

	clk.advance(SettleTime)
	c.Task()

	clk.advance(AckTimeout + time.Microsecond)
	c.Task()

	if c.State() != StateIdle {
		t.Fatalf("state after timeout = %v, want IDLE", c.State())
	}

	if c.BufferCount() != 0 {
		t.Fatalf("BufferCount() after timeout = %d, want 0 (byte dropped)", c.BufferCount())
	}

	if s := c.Stats(); s.Timeouts != 1 {
		t.Fatalf("Timeouts = %d, want 1", s.Timeouts)
	}
}

func TestVIABufferFullDropsKeystroke(t *testing.T) {
	c, _, _ := newTestCore(t)

	for i := 0; i < BufferSize-1; i++ {
		if !c.AddKeystroke(byte(i)) {
			t.Fatalf("AddKeystroke(%d) rejected before buffer full", i)
		}
	}

	if c.AddKeystroke(0xff) {
		t.Fatal("AddKeystroke succeeded on a full buffer, want rejection")
	}

	if s := c.Stats(); s.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", s.Dropped)
	}
}
