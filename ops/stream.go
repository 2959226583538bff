package ops

import (
	"bufio"
	"context"
	"io"
)

// SendStream pumps a line-delimited reader into Send, pausing when the
// send queue backlog reaches the configured high-water mark and
// resuming once it drains to the low-water mark (§4.5 "send_stream").
func (c *Controller) SendStream(ctx context.Context, r io.Reader) error {
	hwm := c.cfg.StreamSendQueueHighWaterMark
	lwm := c.cfg.StreamSendQueueLowWaterMark
	if hwm <= 0 {
		hwm = 20
	}
	if lwm <= 0 {
		lwm = 4
	}

	sc := bufio.NewScanner(r)
	paused := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		c.SendGcode(line)

		for {
			n := c.Status().Comms.SendQueueLength
			if !paused && n >= hwm {
				paused = true
			} else if paused && n <= lwm {
				paused = false
			}
			if !paused {
				break
			}
			sub := c.Drv.Machine.Subscribe()
			cancelSig, cancelErr := c.Drv.CancelSignal()
			select {
			case <-sub:
			case <-cancelSig:
				return cancelErr
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return sc.Err()
}
