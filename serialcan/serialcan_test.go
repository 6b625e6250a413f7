package serialcan

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"isotp/canbus"
	"isotp/frame"
	"isotp/transport"
)

// mockSerialPort is a fake serial.Port backed by in-memory buffers. Like a
// real port without a read timeout, Read blocks until data is fed or the
// port is closed.
type mockSerialPort struct {
	readBuf    []byte
	writeBuf   []byte
	readMutex  sync.Mutex
	writeMutex sync.Mutex
	readIndex  int
	closed     bool
}

func (m *mockSerialPort) Read(p []byte) (int, error) {
	for {
		m.readMutex.Lock()
		if m.closed {
			m.readMutex.Unlock()
			return 0, io.EOF
		}
		if m.readIndex < len(m.readBuf) {
			n := copy(p, m.readBuf[m.readIndex:])
			m.readIndex += n
			m.readMutex.Unlock()
			return n, nil
		}
		m.readMutex.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (m *mockSerialPort) Write(p []byte) (int, error) {
	m.writeMutex.Lock()
	defer m.writeMutex.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	m.writeBuf = append(m.writeBuf, p...)
	return len(p), nil
}

func (m *mockSerialPort) feedReadData(data []byte) {
	m.readMutex.Lock()
	defer m.readMutex.Unlock()
	m.readBuf = append(m.readBuf, data...)
}

func (m *mockSerialPort) writtenData() []byte {
	m.writeMutex.Lock()
	defer m.writeMutex.Unlock()
	return m.writeBuf
}

func (m *mockSerialPort) ResetInputBuffer() error { return nil }

func (m *mockSerialPort) ResetOutputBuffer() error { return nil }

func (m *mockSerialPort) SetMode(*serial.Mode) error { return nil }

func (m *mockSerialPort) SetReadTimeout(time.Duration) error { return nil }

func (m *mockSerialPort) Drain() error { return nil }

func (m *mockSerialPort) SetDTR(bool) error { return nil }

func (m *mockSerialPort) SetRTS(bool) error { return nil }

func (m *mockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }

func (m *mockSerialPort) Break(time.Duration) error { return nil }

func (m *mockSerialPort) Close() error {
	m.readMutex.Lock()
	m.closed = true
	m.readMutex.Unlock()
	return nil
}

func TestSubmitWritesStuffedFrame(t *testing.T) {
	port := &mockSerialPort{}
	tr := newOverPort(port, 0x7E0, 0x7E8, nil)
	defer tr.Close()

	f, _ := frame.EncodeSingle([]byte("hi"))
	if err := tr.Submit(f); err != nil {
		t.Fatal(err)
	}

	written := port.writtenData()
	if len(written) == 0 || written[0] != StartMarker || written[len(written)-1] != EndMarker {
		t.Fatalf("expected stuffed frame bracketed by markers, got % X", written)
	}
}

func TestPollNextDecodesMatchingArbitrationID(t *testing.T) {
	port := &mockSerialPort{}
	encoder := newOverPort(&mockSerialPort{}, 0, 0x7E8, nil)

	f, _ := frame.EncodeSingle([]byte("hey"))
	wire := encoder.stuffFrame(canbusFrameFor(0x7E8, f))
	encoder.Close()
	port.feedReadData(wire)

	tr := newOverPort(port, 0x7E0, 0x7E8, nil)
	defer tr.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status, got, ok, err := tr.PollNext(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status == transport.Ready && ok {
			if string(got.SingleData()) != "hey" {
				t.Fatalf("got %q", got.SingleData())
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected a decoded frame before the deadline")
}

func TestPollNextFiltersOtherArbitrationIDs(t *testing.T) {
	port := &mockSerialPort{}
	encoder := newOverPort(&mockSerialPort{}, 0, 0x123, nil)
	f, _ := frame.EncodeSingle([]byte("no"))
	wire := encoder.stuffFrame(canbusFrameFor(0x123, f))
	encoder.Close()
	port.feedReadData(wire)

	tr := newOverPort(port, 0x7E0, 0x7E8, nil) // rxID does not match 0x123
	defer tr.Close()

	time.Sleep(20 * time.Millisecond)
	status, _, ok, err := tr.PollNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok || status != transport.Pending {
		t.Fatalf("expected filtered frame to never surface, got status=%v ok=%v", status, ok)
	}
}

func TestPollReadyAndPollFlushAreAlwaysReady(t *testing.T) {
	tr := newOverPort(&mockSerialPort{}, 0x7E0, 0x7E8, nil)
	defer tr.Close()

	if status, err := tr.PollReady(context.Background()); err != nil || status != transport.Ready {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if status, err := tr.PollFlush(context.Background()); err != nil || status != transport.Ready {
		t.Fatalf("status=%v err=%v", status, err)
	}
}

func canbusFrameFor(id uint16, f frame.Frame) canbus.Frame {
	return canbus.Frame{ID: id, DLC: 8, Data: f.AsBytes()}
}

func TestSnifferSeesFramesTheRxFilterDrops(t *testing.T) {
	port := &mockSerialPort{}
	encoder := newOverPort(&mockSerialPort{}, 0, 0x123, nil)
	f, _ := frame.EncodeSingle([]byte("no"))
	wire := encoder.stuffFrame(canbusFrameFor(0x123, f))
	encoder.Close()
	port.feedReadData(wire)

	broadcaster := NewFrameBroadcaster(nil)
	tr := newOverPort(port, 0x7E0, 0x7E8, broadcaster) // rxID does not match 0x123
	defer tr.Close()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	select {
	case cf := <-sub:
		if cf.ID != 0x123 {
			t.Fatalf("got ID %#x, want 0x123", cf.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the sniffer to see the filtered frame")
	}
}
