// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "testing"

// fakeEngine simulates a hardware ring: push appends bytes (and would, on
// real hardware, be driven entirely by DMA); the down-counting remaining
// register and epoch counter are reconstructed the same way spec §4.1
// describes, so tests can exercise the tear/re-trigger correction paths
// directly.
type fakeEngine struct {
	size      uint32
	writeIdx  uint32
	remaining uint32
	epoch     uint32

	idle bool
}

func newFakeEngine(size uint32) *fakeEngine {
	return &fakeEngine{size: size, remaining: size, idle: true}
}

func (f *fakeEngine) EpochCount() uint32 { return f.epoch }
func (f *fakeEngine) Remaining() uint32  { return f.remaining }
func (f *fakeEngine) WriteIndex() uint32 { return f.writeIdx }

func (f *fakeEngine) StartOneShot(buf []uint32, n int) error {
	f.idle = false
	return nil
}

func (f *fakeEngine) Idle() bool { return f.idle }
func (f *fakeEngine) Abort()     { f.idle = true }

// push simulates the hardware writing n bytes into buf, retriggering
// (remaining -> size, epoch++) whenever the countdown hits zero.
func (f *fakeEngine) push(buf []byte, n int) {
	for i := 0; i < n; i++ {
		buf[f.writeIdx] = byte(i)
		f.writeIdx = (f.writeIdx + 1) % f.size
		f.remaining--

		if f.remaining == 0 {
			f.remaining = f.size
			f.epoch++
		}
	}
}

func TestRingSequentialReadMatchesWrites(t *testing.T) {
	const size = 16

	buf := make([]byte, size)
	eng := newFakeEngine(size)
	ring, err := NewRing(buf, eng)
	if err != nil {
		t.Fatal(err)
	}

	eng.push(buf, 5)

	if got := ring.Unread(); got != 5 {
		t.Fatalf("Unread() = %d, want 5", got)
	}

	for i := 0; i < 5; i++ {
		if b := ring.ReadByte(); b != byte(i) {
			t.Fatalf("ReadByte() = %d, want %d", b, i)
		}
	}

	if got := ring.Unread(); got != 0 {
		t.Fatalf("Unread() after full read = %d, want 0", got)
	}
}

func TestRingWrapsAcrossRetrigger(t *testing.T) {
	const size = 8

	buf := make([]byte, size)
	eng := newFakeEngine(size)
	ring, err := NewRing(buf, eng)
	if err != nil {
		t.Fatal(err)
	}

	eng.push(buf, 6)

	for i := 0; i < 6; i++ {
		ring.ReadByte()
	}

	// Push past the retrigger boundary (epoch bumps once).
	eng.push(buf, 5)

	if got := ring.Unread(); got != 5 {
		t.Fatalf("Unread() = %d, want 5", got)
	}

	if eng.epoch != 1 {
		t.Fatalf("expected one retrigger, epoch = %d", eng.epoch)
	}
}

func TestRingOverrunDetectedAndCounted(t *testing.T) {
	const size = 8

	var overruns uint32

	buf := make([]byte, size)
	eng := newFakeEngine(size)
	ring, err := NewRing(buf, eng)
	if err != nil {
		t.Fatal(err)
	}
	ring.SetOverrunCounter(&overruns)

	// Flood more than a ring's worth of bytes without ever reading.
	eng.push(buf, size*2+3)

	if !ring.Sync() {
		t.Fatal("Sync() = false, want true (overrun)")
	}

	if overruns != 1 {
		t.Fatalf("overruns = %d, want 1", overruns)
	}

	if ring.Unread() != 0 {
		t.Fatalf("Unread() after overrun resync = %d, want 0", ring.Unread())
	}

	// A second Sync() without further writes must not double-count.
	if ring.Sync() {
		t.Fatal("Sync() = true on second call, want false")
	}

	if overruns != 1 {
		t.Fatalf("overruns after second Sync() = %d, want still 1", overruns)
	}
}

func TestRingReadIntoContiguousIsZeroCopy(t *testing.T) {
	const size = 16

	buf := make([]byte, size)
	eng := newFakeEngine(size)
	ring, err := NewRing(buf, eng)
	if err != nil {
		t.Fatal(err)
	}

	eng.push(buf, 4)

	var stitch [4]byte
	got := ring.ReadInto(stitch[:], 4)

	// For a contiguous run, ReadInto must hand back a slice backed by
	// the ring's own array, not the caller-provided stitch buffer.
	if &got[0] != &buf[0] {
		t.Fatal("ReadInto returned a copy for a contiguous run, want a ring-backed view")
	}
}

func TestRingReadIntoWrappedUsesStitch(t *testing.T) {
	const size = 8

	buf := make([]byte, size)
	eng := newFakeEngine(size)
	ring, err := NewRing(buf, eng)
	if err != nil {
		t.Fatal(err)
	}

	eng.push(buf, 6)
	for i := 0; i < 6; i++ {
		ring.ReadByte()
	}

	eng.push(buf, 4)

	var stitch [4]byte
	got := ring.ReadInto(stitch[:], 4)

	if &got[0] != &stitch[0] {
		t.Fatal("ReadInto did not use the stitch buffer for a wrapped run")
	}

	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("stitched byte %d = %d, want %d", i, b, i)
		}
	}
}

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	buf := make([]byte, 10)
	eng := newFakeEngine(10)

	if _, err := NewRing(buf, eng); err != ErrNotPowerOfTwo {
		t.Fatalf("NewRing(10, ...) err = %v, want ErrNotPowerOfTwo", err)
	}
}
