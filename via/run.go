// https://github.com/usbarmory/chanbridge
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package via

import (
	"context"
	"time"
)

// Run drives Task on a fixed tick until ctx is canceled, the cooperative
// loop's one cancelable surface (SPEC_FULL.md §5): the handshake itself
// never blocks beyond PulseWidth, but a caller wiring this core
// into a real main loop needs a way to stop it cleanly at shutdown.
func (c *Core) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Task()
		}
	}
}
