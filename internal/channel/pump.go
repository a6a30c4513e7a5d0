package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
)

// DefaultHeartbeat is the keep-alive interval for idle viewers.
const DefaultHeartbeat = 30 * time.Second

// Encoder writes events onto a concrete transport.
type Encoder interface {
	Encode(ev Event) error
	Heartbeat() error
}

// Pump drains conn into enc until conn is closed, ctx is cancelled or a
// write fails. A heartbeat is written every interval. The returned error is
// nil when the connection was closed from our side.
func Pump(ctx context.Context, conn *Conn, enc Encoder, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return nil
		case ev := <-conn.queue:
			if err := enc.Encode(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := enc.Heartbeat(); err != nil {
				return err
			}
		}
	}
}

// SSEEncoder writes text/event-stream frames and flushes after each one.
type SSEEncoder struct {
	w *bufio.Writer
}

func NewSSEEncoder(w *bufio.Writer) *SSEEncoder {
	return &SSEEncoder{w: w}
}

func (e *SSEEncoder) Encode(ev Event) error {
	frame, err := FormatSSE(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.WriteString(frame); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *SSEEncoder) Heartbeat() error {
	if _, err := e.w.WriteString(": keep-alive\n\n"); err != nil {
		return err
	}
	return e.w.Flush()
}

// FormatSSE renders ev as an SSE frame with single-line JSON data.
func FormatSSE(ev Event) (string, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s event: %w", ev.Name, err)
	}
	return "event: " + ev.Name + "\ndata: " + string(data) + "\n\n", nil
}

// SocketWriter is the part of a websocket connection the encoder needs.
type SocketWriter interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Frame is the JSON text message carrying one event over a websocket.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WSEncoder writes events as JSON text frames and heartbeats as pings.
type WSEncoder struct {
	conn         SocketWriter
	writeTimeout time.Duration
}

func NewWSEncoder(conn SocketWriter) *WSEncoder {
	return &WSEncoder{conn: conn, writeTimeout: 10 * time.Second}
}

func (e *WSEncoder) Encode(ev Event) error {
	return e.conn.WriteJSON(Frame{Event: ev.Name, Data: ev.Data})
}

func (e *WSEncoder) Heartbeat() error {
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.writeTimeout))
}
