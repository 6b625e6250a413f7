// Package delay provides a non-blocking writer.Delay implementation
// backed by time.Timer. A blocking time.Sleep is the natural way to wait
// out a separation time, but a poll-driven writer cannot block its
// caller's goroutine, so the same millisecond/microsecond arithmetic is
// kept but armed as a timer that PollDelay checks non-blockingly instead.
package delay

import (
	"context"
	"time"

	"isotp/transport"
)

// Timer is a writer.Delay backed by a time.Timer.
type Timer struct {
	timer *time.Timer
}

// NewTimer creates an idle Timer; call Start to arm it.
func NewTimer() *Timer {
	return &Timer{}
}

// Start arms a oneshot delay for the separation time ms encodes. Values
// 0x00-0x7F are milliseconds. Values 0xF1-0xF9 denote 100-900
// microseconds per ISO 15765-2; time.Timer supports sub-millisecond
// durations natively, so these are honored exactly rather than rounded
// up. Any other value (reserved) is treated as 0.
func (t *Timer) Start(ms uint8) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.NewTimer(separationDuration(ms))
}

// PollDelay reports whether the armed delay has elapsed.
func (t *Timer) PollDelay(ctx context.Context) (transport.Status, error) {
	if t.timer == nil {
		return transport.Ready, nil
	}
	select {
	case <-t.timer.C:
		t.timer = nil
		return transport.Ready, nil
	default:
	}
	select {
	case <-ctx.Done():
		return transport.Ready, ctx.Err()
	default:
		return transport.Pending, nil
	}
}

// Cancel disarms the delay.
func (t *Timer) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func separationDuration(st uint8) time.Duration {
	switch {
	case st <= 0x7F:
		return time.Duration(st) * time.Millisecond
	case st >= 0xF1 && st <= 0xF9:
		microseconds := 100 * (int(st) - 0xF0)
		return time.Duration(microseconds) * time.Microsecond
	default:
		return 0
	}
}
