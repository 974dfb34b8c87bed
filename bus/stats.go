// Bus Channel Multiplexer statistics
// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bus

// Stats is a read-only snapshot of the bus core counters (spec §6.4). All
// fields are monotone uint32 counters; overflow wraps around and is not
// treated as an error.
type Stats struct {
	RxBytes        uint32
	TxBytes        uint32
	RxDmaOverruns  uint32
	RxBankruptcies uint32
	TxUnderflows   uint32

	// ProtoErrors counts received write-length bytes of 255, the read
	// sentinel value, which may never appear as a legitimate write
	// length (spec §3, §9 Open Question resolution in SPEC_FULL.md).
	ProtoErrors uint32
}

// Stats returns a copy of the current counters. It is advisory, not
// transactional: concurrent Task() activity may update counters between
// field reads.
func (c *Core) Stats() Stats {
	return Stats{
		RxBytes:        c.stats.RxBytes,
		TxBytes:        c.stats.TxBytes,
		RxDmaOverruns:  c.stats.RxDmaOverruns,
		RxBankruptcies: c.stats.RxBankruptcies,
		TxUnderflows:   c.stats.TxUnderflows,
		ProtoErrors:    c.stats.ProtoErrors,
	}
}
