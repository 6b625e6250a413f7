// Package writer implements the ISO-TP write-side state machine: it
// consumes caller payload bytes, emits Single or First+Consecutive*
// frames on a transport.Sink, and awaits inbound Flow-Control frames
// between blocks, respecting separation-time delays.
package writer

import (
	"context"

	"isotp/frame"
	"isotp/isotperr"
	"isotp/transport"
)

// Delay is the millisecond delay service the writer suspends on between
// Consecutive frames (and while honoring a FlowControl Wait).
type Delay interface {
	// Start arms a oneshot delay of ms milliseconds.
	Start(ms uint8)
	// PollDelay reports whether the armed delay has elapsed.
	PollDelay(ctx context.Context) (transport.Status, error)
	// Cancel disarms the delay.
	Cancel()
}

type state int

const (
	stateEmpty state = iota
	stateSingleReady
	stateConsecutive
	stateFailed
)

// Writer is a one-message write-side state machine. The caller must
// supply the message's total length up front so the encoded First
// frame's length field is always correct regardless of how the payload
// is chunked across PollWrite calls.
type Writer struct {
	sink   transport.Sink
	source transport.Source
	delay  Delay

	totalLen int

	state state
	err   error

	// SingleReady
	single     frame.Frame
	singleSent bool

	// Consecutive
	firstSent              bool
	nextSN                 uint8
	remainingFramesInBlock uint8
	unboundedBlock         bool
	delaying               bool
	stMs                   uint8
}

// New creates a Writer over the given channel and delay service for a
// message of totalLen bytes.
func New(sink transport.Sink, source transport.Source, delay Delay, totalLen int) *Writer {
	return &Writer{sink: sink, source: source, delay: delay, totalLen: totalLen, state: stateEmpty}
}

// PollWrite accepts a chunk of the message payload and emits as many
// outbound frames as it can without blocking, returning the number of
// bytes consumed from buf. A full message may require multiple calls;
// the caller must keep calling until all bytes are consumed, then call
// PollFlush.
func (w *Writer) PollWrite(ctx context.Context, buf []byte) (n int, status transport.Status, err error) {
	if w.state == stateFailed {
		return 0, transport.Ready, w.err
	}

	for {
		switch w.state {
		case stateEmpty:
			if len(buf) == 0 {
				// Idempotent no-op: an empty write on an Empty writer
				// never starts a (spurious, zero-length) transfer.
				return 0, transport.Ready, nil
			}
			if w.totalLen <= 7 {
				f, ok := frame.EncodeSingle(buf)
				if !ok {
					return w.fail(isotperr.InvalidFrame)
				}
				w.single = f
				w.singleSent = false
				w.state = stateSingleReady
			} else {
				w.firstSent = false
				w.nextSN = 1
				w.remainingFramesInBlock = 0
				w.unboundedBlock = false
				w.delaying = false
				w.stMs = 0
				w.state = stateConsecutive
			}

		case stateSingleReady:
			if w.singleSent {
				return 0, transport.Ready, nil
			}
			rstatus, err := w.sink.PollReady(ctx)
			if rstatus == transport.Pending {
				return 0, transport.Pending, nil
			}
			if err != nil {
				return w.fail(isotperr.Transmit(err))
			}
			if err := w.sink.Submit(w.single); err != nil {
				return w.fail(isotperr.Transmit(err))
			}
			w.singleSent = true
			w.state = stateEmpty
			return len(buf), transport.Ready, nil

		case stateConsecutive:
			if w.delaying {
				dstatus, err := w.delay.PollDelay(ctx)
				if dstatus == transport.Pending {
					return 0, transport.Pending, nil
				}
				if err != nil {
					return w.fail(isotperr.Delay(err))
				}
				w.delaying = false
			}

			if !w.firstSent {
				f, used := frame.EncodeFirst(w.totalLen, buf)
				rstatus, err := w.sink.PollReady(ctx)
				if rstatus == transport.Pending {
					return 0, transport.Pending, nil
				}
				if err != nil {
					return w.fail(isotperr.Transmit(err))
				}
				if err := w.sink.Submit(f); err != nil {
					return w.fail(isotperr.Transmit(err))
				}
				w.firstSent = true
				w.remainingFramesInBlock = 0
				w.unboundedBlock = false
				return used, transport.Ready, nil
			}

			if w.remainingFramesInBlock == 0 && !w.unboundedBlock {
				sstatus, f, ok, err := w.source.PollNext(ctx)
				if sstatus == transport.Pending {
					return 0, transport.Pending, nil
				}
				if err != nil {
					return w.fail(isotperr.Receive(err))
				}
				if !ok {
					return w.fail(isotperr.UnexpectedEOF)
				}
				kind, known := f.Kind()
				if !known || kind != frame.Flow {
					return w.fail(isotperr.InvalidFrame)
				}
				fk, known := f.FlowKind()
				if !known {
					return w.fail(isotperr.InvalidFrame)
				}
				switch fk {
				case frame.Continue:
					bs := f.FlowBS()
					if bs == 0 {
						w.unboundedBlock = true
					} else {
						w.remainingFramesInBlock = bs
					}
					w.stMs = f.FlowST()
					// Fall through to send the Consecutive frame below.
				case frame.Wait:
					w.delay.Start(f.FlowST())
					w.delaying = true
					continue
				case frame.Abort:
					return w.fail(isotperr.Aborted)
				}
			}

			cf, used := frame.EncodeConsecutive(w.nextSN, buf)
			rstatus, err := w.sink.PollReady(ctx)
			if rstatus == transport.Pending {
				return 0, transport.Pending, nil
			}
			if err != nil {
				return w.fail(isotperr.Transmit(err))
			}
			if err := w.sink.Submit(cf); err != nil {
				return w.fail(isotperr.Transmit(err))
			}

			w.nextSN = (w.nextSN + 1) % 16
			if !w.unboundedBlock {
				w.remainingFramesInBlock--
			}
			w.delay.Start(w.stMs)
			w.delaying = true

			return used, transport.Ready, nil
		}
	}
}

// PollFlush awaits the sink's flush completion, propagating any error.
func (w *Writer) PollFlush(ctx context.Context) (transport.Status, error) {
	status, err := w.sink.PollFlush(ctx)
	if err != nil {
		return transport.Ready, isotperr.Transmit(err)
	}
	return status, nil
}

func (w *Writer) fail(err error) (int, transport.Status, error) {
	w.state = stateFailed
	w.err = err
	return 0, transport.Ready, err
}
