// Package reader implements the ISO-TP read-side state machine: it
// consumes inbound frames from a transport.Source, emits decoded payload
// bytes into caller-supplied buffers, and generates outbound Flow-Control
// frames on a transport.Sink according to a block-size/separation-time
// policy it announces.
package reader

import (
	"context"

	"isotp/frame"
	"isotp/isotperr"
	"isotp/transport"
)

type state int

const (
	stateEmpty state = iota
	stateSingleReady
	stateConsecutive
	stateFailed
)

// Reader is a one-message read-side state machine. It is created to read
// one logical message; after it reports end-of-message it must be
// discarded, not reused.
type Reader struct {
	sink   transport.Sink
	source transport.Source

	state state
	err   error

	// SingleReady
	single      frame.Frame
	singleTaken bool

	// Consecutive
	remainingBytes         uint16
	remainingFramesInBlock uint8
	nextSN                 uint8
	flushingFC             bool

	// Bytes of the last received frame that did not fit in the caller's
	// buffer; they are delivered before anything else.
	pending []byte

	// Flow-control policy announced to the remote sender.
	blockLen uint8
	st       uint8
}

// New creates a Reader over the given channel with the given flow-control
// policy (block size and separation time to announce to the sender).
// blockLen == 0 means "no more Flow Control after the first one" and must
// be honored by the caller's encoding of BS (a Reader configured this way
// only issues a single Continue per message).
func New(sink transport.Sink, source transport.Source, blockLen, st uint8) *Reader {
	return &Reader{sink: sink, source: source, state: stateEmpty, blockLen: blockLen, st: st}
}

// PollRead drains up to len(buf) bytes of the current message's payload
// into buf. It never splits a received frame's data across calls beyond
// what buf permits: if a frame delivers more bytes than buf holds, the
// remainder is delivered on a subsequent call before any further inbound
// frame is consumed.
//
// status is Ready when n (possibly zero) bytes were produced or an error
// occurred; Pending means the caller must re-invoke PollRead later. n == 0
// with a Ready status and a nil error means end-of-message; further calls
// continue to report that, forever.
func (r *Reader) PollRead(ctx context.Context, buf []byte) (n int, status transport.Status, err error) {
	if r.state == stateFailed {
		return 0, transport.Ready, r.err
	}
	if len(r.pending) > 0 {
		n := copy(buf, r.pending)
		r.pending = r.pending[n:]
		return n, transport.Ready, nil
	}

	for {
		switch r.state {
		case stateEmpty:
			status, f, ok, err := r.source.PollNext(ctx)
			if status == transport.Pending {
				return 0, transport.Pending, nil
			}
			if err != nil {
				return r.fail(isotperr.Receive(err))
			}
			if !ok {
				return r.fail(isotperr.UnexpectedEOF)
			}

			kind, known := f.Kind()
			if !known {
				return r.fail(isotperr.UnknownFrameKind)
			}
			switch kind {
			case frame.Single:
				r.single = f
				r.singleTaken = false
				r.state = stateSingleReady
			case frame.First:
				data := f.FirstData()
				delivered := copy(buf, data)
				r.pending = data[delivered:]
				r.remainingBytes = f.FirstLen() - uint16(len(data))
				r.remainingFramesInBlock = 0
				r.nextSN = 1
				r.flushingFC = false
				r.state = stateConsecutive
				return delivered, transport.Ready, nil
			default:
				return r.fail(isotperr.InvalidFrame)
			}

		case stateSingleReady:
			if r.singleTaken {
				return 0, transport.Ready, nil
			}
			data := r.single.SingleData()
			n := copy(buf, data)
			r.pending = data[n:]
			r.singleTaken = true
			return n, transport.Ready, nil

		case stateConsecutive:
			if r.remainingBytes == 0 {
				return 0, transport.Ready, nil
			}

			for r.remainingFramesInBlock == 0 {
				if r.flushingFC {
					status, err := r.sink.PollFlush(ctx)
					if status == transport.Pending {
						return 0, transport.Pending, nil
					}
					if err != nil {
						return r.fail(isotperr.Transmit(err))
					}
					r.remainingFramesInBlock = r.blockLen
					r.flushingFC = false
					if r.blockLen == 0 {
						r.remainingFramesInBlock = 0xFF // effectively unbounded
					}
				} else {
					status, err := r.sink.PollReady(ctx)
					if status == transport.Pending {
						return 0, transport.Pending, nil
					}
					if err != nil {
						return r.fail(isotperr.Transmit(err))
					}
					fc := frame.EncodeFlow(frame.Continue, r.blockLen, r.st)
					if err := r.sink.Submit(fc); err != nil {
						return r.fail(isotperr.Transmit(err))
					}
					r.flushingFC = true
				}
			}

			status, f, ok, err := r.source.PollNext(ctx)
			if status == transport.Pending {
				return 0, transport.Pending, nil
			}
			if err != nil {
				return r.fail(isotperr.Receive(err))
			}
			if !ok {
				return r.fail(isotperr.UnexpectedEOF)
			}
			kind, known := f.Kind()
			if !known {
				return r.fail(isotperr.UnknownFrameKind)
			}
			if kind != frame.Consecutive {
				return r.fail(isotperr.InvalidFrame)
			}

			data := f.ConsecutiveData()
			used := len(data)
			if used > int(r.remainingBytes) {
				used = int(r.remainingBytes)
			}
			delivered := copy(buf, data[:used])
			r.pending = data[delivered:used]

			r.remainingBytes -= uint16(used)
			if r.remainingFramesInBlock != 0xFF {
				r.remainingFramesInBlock--
			}
			r.nextSN = (r.nextSN + 1) % 16
			// SN is not validated against nextSN: lenient pass-through,
			// per spec's explicit Open Question resolution.

			return delivered, transport.Ready, nil
		}
	}
}

func (r *Reader) fail(err error) (int, transport.Status, error) {
	r.state = stateFailed
	r.err = err
	return 0, transport.Ready, err
}
