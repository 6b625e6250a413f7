// Package scheduler is the minimal cooperative driver that plays the
// role of an external collaborator: something that calls poll_read/
// poll_write repeatedly, making forward progress when possible and
// otherwise yielding until the next opportunity. Package reader and
// package writer never import this package — they only expose Poll*
// methods; scheduler is one concrete way to drive them to completion.
package scheduler

import (
	"context"
	"runtime"
	"time"

	"isotp/transport"
)

// backoff is how long Run waits before re-polling after a Pending result.
// It is small because the suspension points in this module (sink
// readiness, flush, next frame, delay) are expected to resolve quickly;
// a production scheduler would instead wake on the underlying
// readiness/timer event rather than poll blindly.
const backoff = 200 * time.Microsecond

// PollFunc is a single poll step: read a chunk, write a chunk, flush, or
// any other Poll*-shaped operation reduced to its (status, error) result.
type PollFunc func(ctx context.Context) (transport.Status, error)

// Run repeatedly invokes poll until it reports Ready or returns an error,
// yielding the goroutine on every Pending result.
func Run(ctx context.Context, poll PollFunc) error {
	for {
		status, err := poll(ctx)
		if err != nil {
			return err
		}
		if status == transport.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
		time.Sleep(backoff)
	}
}

// Reader is the subset of reader.Reader the scheduler drives.
type Reader interface {
	PollRead(ctx context.Context, buf []byte) (int, transport.Status, error)
}

// Writer is the subset of writer.Writer the scheduler drives.
type Writer interface {
	PollWrite(ctx context.Context, buf []byte) (int, transport.Status, error)
	PollFlush(ctx context.Context) (transport.Status, error)
}

// ReadMessage drives r to completion, appending every delivered chunk to
// a growing buffer sized by the caller's bufSize hint per poll call. It
// returns once the reader reports end-of-message (n == 0, Ready, nil
// error) or an error occurs.
func ReadMessage(ctx context.Context, r Reader, bufSize int) ([]byte, error) {
	if bufSize <= 0 {
		bufSize = 64
	}
	chunk := make([]byte, bufSize)
	var out []byte
	for {
		n, status, err := r.PollRead(ctx, chunk)
		if err != nil {
			return out, err
		}
		if status == transport.Pending {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			default:
			}
			runtime.Gosched()
			time.Sleep(backoff)
			continue
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, chunk[:n]...)
	}
}

// WriteMessage drives w to completion over the full payload, then flushes.
func WriteMessage(ctx context.Context, w Writer, payload []byte) error {
	offset := 0
	for offset < len(payload) {
		n, status, err := w.PollWrite(ctx, payload[offset:])
		if err != nil {
			return err
		}
		if status == transport.Pending {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			runtime.Gosched()
			time.Sleep(backoff)
			continue
		}
		offset += n
	}
	return Run(ctx, w.PollFlush)
}
