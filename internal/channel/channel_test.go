package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnSend(t *testing.T) {
	c := NewConn(2)
	require.NotEmpty(t, c.ID())

	require.NoError(t, c.Send(Connected("rec_1")))
	require.NoError(t, c.Send(Connected("rec_1")))
	assert.ErrorIs(t, c.Send(Connected("rec_1")), ErrBackpressure)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(Connected("rec_1")), ErrClosed)
}

func TestConnIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewConn(0).ID(), NewConn(0).ID())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := NewConn(1), NewConn(1)

	r.Add("rec_1", a)
	r.Add("rec_1", b)
	r.Add("rec_1", a)
	assert.Len(t, r.Snapshot("rec_1"), 2)

	assert.True(t, r.Remove("rec_1", a))
	assert.False(t, r.Remove("rec_1", a))
	assert.False(t, r.Remove("rec_2", a))
	assert.Len(t, r.Snapshot("rec_1"), 1)

	assert.True(t, r.Remove("rec_1", b))
	assert.Empty(t, r.Snapshot("rec_1"))

	r.Add("rec_1", a)
	removed := r.RemoveAll("rec_1")
	assert.Len(t, removed, 1)
	assert.Empty(t, r.Snapshot("rec_1"))
	assert.Empty(t, r.RemoveAll("rec_1"))
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	r.Add("rec_1", NewConn(1))
	r.Add("rec_2", NewConn(1))

	assert.Len(t, r.Drain(), 2)
	assert.Empty(t, r.Snapshot("rec_1"))
	assert.Empty(t, r.Snapshot("rec_2"))
}

func TestFormatSSE(t *testing.T) {
	frame, err := FormatSSE(Connected("rec_2024-03-15T14-30-00Z"))
	require.NoError(t, err)
	assert.Equal(t, "event: connected\ndata: {\"recordingId\":\"rec_2024-03-15T14-30-00Z\"}\n\n", frame)

	_, err = FormatSSE(Event{Name: "bad", Data: make(chan int)})
	assert.Error(t, err)
}

type recordingEncoder struct {
	mu         sync.Mutex
	events     []Event
	heartbeats int
	failAfter  int
}

func (e *recordingEncoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAfter > 0 && len(e.events) >= e.failAfter {
		return errors.New("broken pipe")
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEncoder) Heartbeat() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.heartbeats++
	return nil
}

func (e *recordingEncoder) snapshot() ([]Event, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...), e.heartbeats
}

func TestPumpDeliversInOrder(t *testing.T) {
	c := NewConn(8)
	enc := &recordingEncoder{}

	done := make(chan error, 1)
	go func() { done <- Pump(context.Background(), c, enc, time.Hour) }()

	require.NoError(t, c.Send(Connected("rec_1")))
	require.NoError(t, c.Send(Event{Name: EventCommand, Data: map[string]string{"action": "play"}}))

	require.Eventually(t, func() bool {
		events, _ := enc.snapshot()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	events, _ := enc.snapshot()
	assert.Equal(t, EventConnected, events[0].Name)
	assert.Equal(t, EventCommand, events[1].Name)

	require.NoError(t, c.Close())
	assert.NoError(t, <-done)
}

func TestPumpHeartbeat(t *testing.T) {
	c := NewConn(1)
	enc := &recordingEncoder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Pump(ctx, c, enc, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, beats := enc.snapshot()
		return beats >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPumpStopsOnWriteError(t *testing.T) {
	c := NewConn(4)
	enc := &recordingEncoder{failAfter: 1}

	require.NoError(t, c.Send(Connected("rec_1")))
	require.NoError(t, c.Send(Connected("rec_1")))

	err := Pump(context.Background(), c, enc, time.Hour)
	assert.EqualError(t, err, "broken pipe")
}

func TestSSEEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewSSEEncoder(bufio.NewWriter(&buf))

	require.NoError(t, enc.Encode(Failure("recording not found")))
	require.NoError(t, enc.Heartbeat())

	assert.Equal(t, "event: error\ndata: {\"error\":\"recording not found\"}\n\n: keep-alive\n\n", buf.String())
}

type fakeWS struct {
	frames []any
	pings  int
}

func (f *fakeWS) WriteJSON(v interface{}) error {
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeWS) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.pings++
	return nil
}

func TestWSEncoder(t *testing.T) {
	ws := &fakeWS{}
	enc := NewWSEncoder(ws)

	require.NoError(t, enc.Encode(Connected("rec_1")))
	require.NoError(t, enc.Heartbeat())

	require.Len(t, ws.frames, 1)
	assert.Equal(t, Frame{Event: EventConnected, Data: map[string]string{"recordingId": "rec_1"}}, ws.frames[0])
	assert.Equal(t, 1, ws.pings)
}
