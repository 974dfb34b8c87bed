// SPI Slave Transport statistics
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spi

// Stats is a read-only snapshot of the SPI core counters (spec §6.4). All
// fields are monotone uint32 counters; overflow wraps around and is not
// treated as an error.
type Stats struct {
	RxWrites    uint32
	RxBytes     uint32
	RxOverflows uint32
	TxReads     uint32
	TxBytes     uint32
	Requests    uint32
	ProtoErrors uint32
}

// Stats returns a copy of the current counters. It is advisory, not
// transactional: concurrent Task() activity may update counters between
// field reads.
func (c *Core) Stats() Stats {
	return Stats{
		RxWrites:    c.stats.RxWrites,
		RxBytes:     c.stats.RxBytes,
		RxOverflows: c.stats.RxOverflows,
		TxReads:     c.stats.TxReads,
		TxBytes:     c.stats.TxBytes,
		Requests:    c.stats.Requests,
		ProtoErrors: c.stats.ProtoErrors,
	}
}
