package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"isotp/delay"
	"isotp/frame"
	"isotp/reader"
	"isotp/transport"
	"isotp/transport/transporttest"
	"isotp/writer"
)

func TestReadMessageSingleFrame(t *testing.T) {
	f, _ := frame.EncodeSingle([]byte("hello"))
	sink := &transporttest.Sink{}
	source := &transporttest.Source{Queue: []transporttest.Inbound{{Frame: f}}}
	r := reader.New(sink, source, 10, 0)

	got, err := ReadMessage(context.Background(), r, 7)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestReadMessageMultiFrame(t *testing.T) {
	data := []byte("Hello World!")
	first, used := frame.EncodeFirst(len(data), data)
	second, _ := frame.EncodeConsecutive(1, data[used:])

	sink := &transporttest.Sink{}
	source := &transporttest.Source{Queue: []transporttest.Inbound{{Frame: first}, {Frame: second}}}
	r := reader.New(sink, source, 10, 0)

	got, err := ReadMessage(context.Background(), r, 4)
	require.NoError(t, err)
	require.Equal(t, string(data), string(got))
}

func TestWriteMessageMultiFrame(t *testing.T) {
	data := []byte("Hello World!")
	sink := &transporttest.Sink{}
	source := &transporttest.Source{Queue: []transporttest.Inbound{
		{Frame: frame.EncodeFlow(frame.Continue, 10, 0)},
	}}
	d := delay.NewTimer()
	w := writer.New(sink, source, d, len(data))

	err := WriteMessage(context.Background(), w, data)
	require.NoError(t, err)
	require.Len(t, sink.Sent, 2, "expected First+Consecutive")
	require.NotZero(t, sink.Flushed, "expected WriteMessage to flush the sink")
}

func TestRunPropagatesPollError(t *testing.T) {
	boom := errSentinel("boom")
	err := Run(context.Background(), func(ctx context.Context) (transport.Status, error) {
		return transport.Pending, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestRunRetriesUntilReady(t *testing.T) {
	calls := 0
	err := Run(context.Background(), func(ctx context.Context) (transport.Status, error) {
		calls++
		if calls < 3 {
			return transport.Pending, nil
		}
		return transport.Ready, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
