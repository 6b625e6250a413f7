// Package serialcan is a transport.Sink/transport.Source backed by a
// classical-CAN-over-USB-serial link using a byte-stuffed wire protocol:
// a background read goroutine keeps canbus.Frame values arbitration-
// filtered onto rxID, and the matching isotp PDU is recovered from its
// 8 data bytes.
package serialcan

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"isotp/canbus"
	"isotp/frame"
	"isotp/transport"
)

const (
	BaudRate    = 115200
	StartMarker = 0x7E
	EndMarker   = 0x7F
	EscapeChar  = 0x1B
)

// Transport is a transport.Sink and transport.Source over one classical-CAN
// arbitration ID pair: txID for frames this side submits, rxID for frames
// this side accepts from the bus. Frames with any other arbitration ID are
// silently filtered, matching how a real CAN transceiver only surfaces the
// traffic an application subscribed to.
type Transport struct {
	port   serial.Port
	reader *bufio.Reader

	txID uint16
	rxID uint16

	writeMutex sync.Mutex

	frames chan canbus.Frame
	errs   chan error

	// sniff, if set, receives every raw frame the read loop decodes
	// (before the rxID filter), for bus monitoring independent of the
	// ISO-TP session running over this Transport.
	sniff *FrameBroadcaster

	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// Open finds the first recognized Arduino-compatible USB-serial adapter
// and opens a Transport over it for the given arbitration ID pair. sniff,
// if non-nil, receives every raw frame the read loop decodes off the
// wire, regardless of arbitration ID.
func Open(txID, rxID uint16, sniff *FrameBroadcaster) (*Transport, error) {
	portName, err := findArduinoPortName()
	if err != nil {
		return nil, err
	}
	return OpenPort(portName, txID, rxID, sniff)
}

// OpenPort opens a Transport over an explicit serial port name, for
// setups where USB VID sniffing isn't appropriate (or in tests, where
// callers construct a Transport directly around a fake serial.Port via
// newOverPort).
func OpenPort(portName string, txID, rxID uint16, sniff *FrameBroadcaster) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: BaudRate})
	if err != nil {
		return nil, err
	}
	return newOverPort(port, txID, rxID, sniff), nil
}

func newOverPort(port serial.Port, txID, rxID uint16, sniff *FrameBroadcaster) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		port:   port,
		reader: bufio.NewReader(port),
		txID:   txID,
		rxID:   rxID,
		frames: make(chan canbus.Frame, 32),
		errs:   make(chan error, 1),
		sniff:  sniff,
		ctx:    ctx,
		cancel: cancel,
	}
	t.done.Add(1)
	go t.readLoop()
	return t
}

func findArduinoPortName() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if port.IsUSB {
			switch port.VID {
			case "2341", "1A86", "2A03":
				return port.Name, nil
			}
		}
	}
	return "", fmt.Errorf("serialcan: no recognized USB-serial adapter found")
}

// Close stops the read loop and closes the underlying serial port.
func (t *Transport) Close() error {
	t.cancel()
	// Closing the port unblocks a read loop waiting in a port read.
	var err error
	if t.port != nil {
		err = t.port.Close()
	}
	t.done.Wait()
	return err
}

// PollReady reports that the sink can always accept a Submit: the wire
// write below happens synchronously and writeMutex already serializes
// writers, so there is never a pending-submission backlog to wait out.
func (t *Transport) PollReady(ctx context.Context) (transport.Status, error) {
	return transport.Ready, nil
}

// Submit writes one ISO-TP PDU onto the bus as a single 8-byte classical-CAN
// frame addressed to txID.
func (t *Transport) Submit(f frame.Frame) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	b := f.AsBytes()
	cf := canbus.Frame{ID: t.txID, DLC: 8, Data: b}
	_, err := t.port.Write(t.stuffFrame(cf))
	return err
}

// PollFlush reports completion immediately: Submit already performed the
// wire write, so there is nothing left outstanding to wait for.
func (t *Transport) PollFlush(ctx context.Context) (transport.Status, error) {
	return transport.Ready, nil
}

// PollClose tears the transport down from within the poll-driven caller.
func (t *Transport) PollClose(ctx context.Context) (transport.Status, error) {
	return transport.Ready, t.Close()
}

// PollNext returns the next inbound ISO-TP PDU addressed to rxID, or
// Pending if none has arrived yet.
func (t *Transport) PollNext(ctx context.Context) (transport.Status, frame.Frame, bool, error) {
	select {
	case cf, ok := <-t.frames:
		if !ok {
			return transport.Ready, frame.Frame{}, false, nil
		}
		return transport.Ready, frame.FromBytes(cf.Data[:cf.DLC]), true, nil
	case err := <-t.errs:
		return transport.Ready, frame.Frame{}, false, err
	default:
	}
	select {
	case <-ctx.Done():
		return transport.Ready, frame.Frame{}, false, ctx.Err()
	default:
		return transport.Pending, frame.Frame{}, false, nil
	}
}

func (t *Transport) readLoop() {
	defer t.done.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		cf, err := t.readFrame()
		if err != nil {
			select {
			case t.errs <- err:
			default:
			}
			return
		}
		if t.sniff != nil {
			t.sniff.Broadcast(cf)
		}
		if cf.ID != t.rxID {
			continue
		}
		select {
		case t.frames <- cf:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) readFrame() (canbus.Frame, error) {
	unstuffed, err := t.readAndUnstuffFrame()
	if err != nil {
		return canbus.Frame{}, err
	}
	if len(unstuffed) < 4 {
		return canbus.Frame{}, fmt.Errorf("serialcan: incomplete frame received")
	}

	id := (uint16(unstuffed[0]) << 8) | uint16(unstuffed[1])
	dlc := unstuffed[2]
	if dlc > 8 {
		return canbus.Frame{}, fmt.Errorf("serialcan: invalid DLC value: %d", dlc)
	}
	if len(unstuffed) < 3+int(dlc)+1 {
		return canbus.Frame{}, fmt.Errorf("serialcan: incomplete frame, expected %d bytes, got %d", 4+int(dlc), len(unstuffed))
	}

	var data [8]uint8
	copy(data[:], unstuffed[3:3+dlc])

	receivedChecksum := unstuffed[3+dlc]
	if got := calculateCRC8(dlc, data); got != receivedChecksum {
		return canbus.Frame{}, fmt.Errorf("serialcan: checksum mismatch")
	}

	return canbus.Frame{ID: id, DLC: dlc, Data: data}, nil
}

func (t *Transport) readAndUnstuffFrame() ([]byte, error) {
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartMarker {
			break
		}
	}

	var unstuffed []byte
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case EndMarker:
			return unstuffed, nil
		case EscapeChar:
			tag, err := t.reader.ReadByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case 0x01:
				unstuffed = append(unstuffed, StartMarker)
			case 0x02:
				unstuffed = append(unstuffed, EndMarker)
			case 0x03:
				unstuffed = append(unstuffed, EscapeChar)
			default:
				return nil, fmt.Errorf("serialcan: invalid escape sequence")
			}
		default:
			unstuffed = append(unstuffed, b)
		}
	}
}

func (t *Transport) stuffFrame(cf canbus.Frame) []byte {
	out := []byte{StartMarker}
	stuff := func(b byte) {
		switch b {
		case StartMarker:
			out = append(out, EscapeChar, 0x01)
		case EndMarker:
			out = append(out, EscapeChar, 0x02)
		case EscapeChar:
			out = append(out, EscapeChar, 0x03)
		default:
			out = append(out, b)
		}
	}

	stuff(byte(cf.ID >> 8))
	stuff(byte(cf.ID))
	stuff(cf.DLC)
	for i := 0; i < int(cf.DLC); i++ {
		stuff(cf.Data[i])
	}
	stuff(calculateCRC8(cf.DLC, cf.Data))
	out = append(out, EndMarker)
	return out
}

func calculateCRC8(dlc uint8, data [8]uint8) byte {
	const polynomial = byte(0x07)
	crc := byte(0x00)
	for i := 0; i < int(dlc); i++ {
		crc ^= data[i]
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
