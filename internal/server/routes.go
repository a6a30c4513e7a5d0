package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"camdesk/internal/auth"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/health", s.healthHandler)

	authHandler := auth.NewHandler(s.accounts, s.jwt)
	s.App.Post("/auth/login", authHandler.Login)

	// Recording control
	s.App.Post("/api/recording/start", s.admin(s.startRecording)...)
	s.App.Post("/api/recording/stop", s.admin(s.stopRecording)...)
	s.App.Get("/api/recording/status", s.admin(s.recordingStatus)...)

	// Recording catalog
	s.App.Get("/api/recordings", s.admin(s.listRecordings)...)
	s.App.Delete("/api/recordings/:id", s.admin(s.deleteRecording)...)
	s.App.Post("/api/recordings/:id/publish", s.admin(s.publishRecording)...)

	// Playback control
	s.App.Get("/api/playback/:id", s.admin(s.getPlaybackState)...)
	s.App.Post("/api/playback/:id/play", s.admin(s.playHandler)...)
	s.App.Post("/api/playback/:id/stop", s.admin(s.stopHandler)...)
	s.App.Post("/api/playback/:id/forward", s.admin(s.forwardHandler)...)
	s.App.Post("/api/playback/:id/rewind", s.admin(s.rewindHandler)...)

	// Player side
	s.App.Get("/api/playback/:id/events", s.viewer(s.playbackEvents)...)
	s.App.Post("/api/playback/:id/state", s.viewer(s.reportPlayerState)...)
	s.App.Get("/media/:filename", s.viewer(s.serveMedia)...)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws/playback/:id", s.viewer(websocket.New(s.playbackSocket))...)
}

// admin guards h with a token check that requires the admin role.
func (s *FiberServer) admin(h fiber.Handler) []fiber.Handler {
	return []fiber.Handler{auth.Middleware(s.jwt), auth.RequireRole(auth.RoleAdmin), h}
}

// viewer guards h with a token check that accepts viewers and admins.
func (s *FiberServer) viewer(h fiber.Handler) []fiber.Handler {
	return []fiber.Handler{auth.Middleware(s.jwt), auth.RequireRole(auth.RoleViewer), h}
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "ok",
		"recording": s.recorder.IsRecording(),
	}
	if s.db != nil {
		resp["database"] = s.db.Health()
	} else {
		resp["database"] = fiber.Map{"message": "in-memory metadata"}
	}
	return c.JSON(resp)
}
