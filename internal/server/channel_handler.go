package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"

	"camdesk/internal/apperr"
	"camdesk/internal/channel"
)

func (s *FiberServer) heartbeat() time.Duration {
	return s.cfg.Playback.HeartbeatInterval
}

// checkRecording refuses viewer registration for ids that do not name a
// recording on disk.
func (s *FiberServer) checkRecording(ctx context.Context, id string) error {
	if _, err := s.catalog.Get(ctx, id); err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			return err
		}
		return apperr.Wrap(apperr.KindNotFound, "recording not found", err)
	}
	return nil
}

// playbackEvents streams playback commands to a player over SSE.
func (s *FiberServer) playbackEvents(c *fiber.Ctx) error {
	id := c.Params("id")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	if err := s.checkRecording(c.UserContext(), id); err != nil {
		var ae *apperr.Error
		msg := "registration failed"
		if errors.As(err, &ae) {
			msg = ae.Message
		}
		frame, ferr := channel.FormatSSE(channel.Failure(msg))
		if ferr != nil {
			return ferr
		}
		return c.SendString(frame)
	}

	conn := channel.NewConn(channel.DefaultBuffer)
	_ = conn.Send(channel.Connected(id))
	s.playback.RegisterClient(id, conn)
	s.logger.Debug("viewer connected", "recording_id", id, "transport", "sse", "viewer", conn.ID())

	ctx := s.ctx
	peer := c.Context().Conn()
	// the connection is not reused once the stream ends
	c.Context().SetConnectionClose()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer s.dropViewer(id, conn, "sse")
		go watchPeer(peer, conn)
		if err := channel.Pump(ctx, conn, channel.NewSSEEncoder(w), s.heartbeat()); err != nil {
			s.logger.Debug("event stream ended", "recording_id", id, "error", err)
		}
	}))
	return nil
}

// playbackSocket is the websocket flavour of playbackEvents. Players may
// also send state reports over the socket.
func (s *FiberServer) playbackSocket(ws *websocket.Conn) {
	id := ws.Params("id")

	if err := s.checkRecording(context.Background(), id); err != nil {
		var ae *apperr.Error
		msg := "registration failed"
		if errors.As(err, &ae) {
			msg = ae.Message
		}
		ev := channel.Failure(msg)
		_ = ws.WriteJSON(channel.Frame{Event: ev.Name, Data: ev.Data})
		_ = ws.Close()
		return
	}

	conn := channel.NewConn(channel.DefaultBuffer)
	_ = conn.Send(channel.Connected(id))
	s.playback.RegisterClient(id, conn)
	s.logger.Debug("viewer connected", "recording_id", id, "transport", "websocket", "viewer", conn.ID())
	defer s.dropViewer(id, conn, "websocket")

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readReports(ws, id, conn)
	}()

	if err := channel.Pump(s.ctx, conn, channel.NewWSEncoder(ws), s.heartbeat()); err != nil {
		s.logger.Debug("socket ended", "recording_id", id, "error", err)
	}

	// ws goes back to a pool when this handler returns, so the reader
	// must be gone by then
	_ = ws.Close()
	<-readerDone
}

// watchPeer closes conn as soon as the client hangs up on an event stream.
// fasthttp does not read from a connection while a streamed response is
// being written, so this is the only reader.
func watchPeer(peer net.Conn, conn *channel.Conn) {
	defer conn.Close()
	if peer == nil {
		return
	}
	_ = peer.SetReadDeadline(time.Time{})
	buf := make([]byte, 512)
	for {
		if _, err := peer.Read(buf); err != nil {
			return
		}
		select {
		case <-conn.Done():
			return
		default:
		}
	}
}

// readReports applies player reports until the socket fails, then closes
// conn so the pump returns.
func (s *FiberServer) readReports(ws *websocket.Conn, id string, conn *channel.Conn) {
	defer conn.Close()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var req playerStateRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.logger.Debug("ignoring malformed player report", "recording_id", id, "error", err)
			continue
		}
		if err := validateReport(req); err != nil {
			s.logger.Debug("ignoring invalid player report", "recording_id", id, "error", err)
			continue
		}
		s.playback.UpdatePlayerState(id, req.State, *req.Position, req.Message)
	}
}

func (s *FiberServer) dropViewer(id string, conn *channel.Conn, transport string) {
	s.playback.UnregisterClient(id, conn)
	_ = conn.Close()
	s.logger.Debug("viewer disconnected", "recording_id", id, "transport", transport, "viewer", conn.ID())
}
