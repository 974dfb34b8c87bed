// Channel TX Buffers (CTB)
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bus

// MaxBufferSize is BUS_MAX_BUFFER_SIZE (spec §3): the bound on each
// per-channel reply ring.
const MaxBufferSize = 1024

// ctb is a bounded ring of reply bytes queued for a single channel,
// awaiting the next read-request. Only the reply producer (EnqueueReply)
// advances head; only the one-shot TX dispatcher advances tail. Since both
// run from the same cooperative context (spec §5), no locking is needed.
type ctb struct {
	buf   [MaxBufferSize]byte
	head  int
	tail  int
	count int
}

// write copies up to len(data) bytes into the ring, returning the number of
// bytes actually written (min(len(data), free space)).
func (c *ctb) write(data []byte) int {
	free := MaxBufferSize - c.count
	n := len(data)

	if n > free {
		n = free
	}

	for i := 0; i < n; i++ {
		c.buf[c.head] = data[i]
		c.head = (c.head + 1) % MaxBufferSize
	}

	c.count += n

	return n
}

// drain copies up to n bytes out of the ring (capped by available count)
// into dst, advancing tail, and returns the number of bytes copied.
func (c *ctb) drain(dst []byte, n int) int {
	if n > c.count {
		n = c.count
	}

	if n > len(dst) {
		n = len(dst)
	}

	for i := 0; i < n; i++ {
		dst[i] = c.buf[c.tail]
		c.tail = (c.tail + 1) % MaxBufferSize
	}

	c.count -= n

	return n
}

// reset clears the channel's pending reply bytes.
func (c *ctb) reset() {
	c.head = 0
	c.tail = 0
	c.count = 0
}
