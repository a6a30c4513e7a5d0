package server

import (
	"github.com/gofiber/fiber/v2"

	"camdesk/internal/auth"
)

func (s *FiberServer) startRecording(c *fiber.Ctx) error {
	res, err := s.recorder.Start(c.UserContext())
	if err != nil {
		s.logger.Warn("recording start refused", "user", auth.UsernameOf(c), "error", err)
		return err
	}

	s.logger.Info("recording started", "session_id", res.SessionID, "user", auth.UsernameOf(c))
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (s *FiberServer) stopRecording(c *fiber.Ctx) error {
	session, err := s.recorder.Stop()
	if err != nil {
		return err
	}

	s.logger.Info("recording stopped",
		"session_id", session.SessionID,
		"status", session.Status,
		"user", auth.UsernameOf(c),
	)
	return c.JSON(session)
}

func (s *FiberServer) recordingStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"recording": s.recorder.IsRecording(),
		"session":   s.recorder.State(),
	})
}
