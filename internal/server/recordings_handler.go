package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"camdesk/internal/academy"
	"camdesk/internal/apperr"
	"camdesk/internal/recording"
)

func (s *FiberServer) listRecordings(c *fiber.Ctx) error {
	recs, err := s.catalog.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"recordings": recs,
		"count":      len(recs),
	})
}

func (s *FiberServer) deleteRecording(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}
	if err := s.catalog.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *FiberServer) publishRecording(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}
	if id == s.recorder.ActiveSessionID() {
		return apperr.New(apperr.KindConflict, "recording is still in progress")
	}

	rec, err := s.catalog.Get(c.UserContext(), id)
	if err != nil {
		return err
	}

	res, err := s.academy.PublishRecording(academy.Upload{
		SessionID: rec.SessionID,
		FilePath:  s.catalog.Path(rec.SessionID),
		Duration:  rec.Duration,
	})
	if err != nil {
		return err
	}

	if err := s.catalog.MarkPublished(c.UserContext(), *rec, time.Now().UTC()); err != nil {
		// the upload itself succeeded
		s.logger.Warn("failed to record publish time", "session_id", id, "error", err)
	}

	return c.JSON(fiber.Map{
		"published": true,
		"remoteId":  res.RemoteID,
		"url":       res.URL,
	})
}

func (s *FiberServer) serveMedia(c *fiber.Ctx) error {
	filename := c.Params("filename")
	id, ok := strings.CutSuffix(filename, recording.FileExtension)
	if !ok || !recording.ValidSessionID(id) {
		return apperr.Invalid("filename", "unknown recording file")
	}
	if id == s.recorder.ActiveSessionID() {
		return apperr.New(apperr.KindConflict, "recording is still in progress")
	}

	rec, err := s.catalog.Get(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.SendFile(s.catalog.Path(rec.SessionID), false)
}
