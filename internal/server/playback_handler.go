package server

import (
	"github.com/gofiber/fiber/v2"

	"camdesk/internal/apperr"
	"camdesk/internal/catalog"
	"camdesk/internal/playback"
)

// MaxSeekSeconds bounds a single forward jump.
const MaxSeekSeconds = 3600

type seekRequest struct {
	Seconds *int `json:"seconds"`
}

type playerStateRequest struct {
	State    playback.PlayerState `json:"state"`
	Position *float64             `json:"position"`
	Message  *string              `json:"message"`
}

func recordingID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if err := catalog.ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FiberServer) getPlaybackState(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}
	st := s.playback.PlaybackState(id)
	if st == nil {
		return apperr.New(apperr.KindNotFound, "no player registered for recording")
	}
	return c.JSON(fiber.Map{
		"state":   st,
		"viewers": s.playback.ViewerCount(id),
	})
}

func (s *FiberServer) playHandler(c *fiber.Ctx) error {
	return s.dispatch(c, playback.Play())
}

func (s *FiberServer) stopHandler(c *fiber.Ctx) error {
	return s.dispatch(c, playback.Stop())
}

func (s *FiberServer) dispatch(c *fiber.Ctx, cmd playback.Command) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}
	res, err := s.playback.DispatchCommand(id, cmd)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *FiberServer) forwardHandler(c *fiber.Ctx) error {
	seconds, err := parseSeconds(c)
	if err != nil {
		return err
	}
	if seconds < 1 || seconds > MaxSeekSeconds {
		return apperr.Invalid("seconds", "must be an integer between 1 and 3600")
	}
	return s.seek(c, float64(seconds))
}

func (s *FiberServer) rewindHandler(c *fiber.Ctx) error {
	seconds, err := parseSeconds(c)
	if err != nil {
		return err
	}
	if seconds < 0 {
		return apperr.Invalid("seconds", "must be a non-negative integer")
	}
	return s.seek(c, -float64(seconds))
}

func (s *FiberServer) seek(c *fiber.Ctx, delta float64) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}
	res, err := s.playback.SeekBy(id, delta)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func parseSeconds(c *fiber.Ctx) (int, error) {
	var req seekRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, apperr.Invalid("seconds", "must be an integer")
	}
	if req.Seconds == nil {
		return 0, apperr.Invalid("seconds", "is required")
	}
	return *req.Seconds, nil
}

func (s *FiberServer) reportPlayerState(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return err
	}

	var req playerStateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", "invalid request body")
	}
	if err := validateReport(req); err != nil {
		return err
	}

	if !s.playback.UpdatePlayerState(id, req.State, *req.Position, req.Message) {
		return apperr.New(apperr.KindNotFound, "no player registered for recording")
	}
	return c.JSON(fiber.Map{"accepted": true})
}

func validateReport(req playerStateRequest) error {
	if !req.State.Reportable() {
		return apperr.Invalid("state", "must be one of playing, paused, ended, error")
	}
	if req.Position == nil {
		return apperr.Invalid("position", "is required")
	}
	if *req.Position < 0 {
		return apperr.Invalid("position", "must be >= 0")
	}
	return nil
}
