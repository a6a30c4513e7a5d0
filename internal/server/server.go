package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/multierr"

	"camdesk/internal/academy"
	"camdesk/internal/apperr"
	"camdesk/internal/auth"
	"camdesk/internal/catalog"
	"camdesk/internal/config"
	"camdesk/internal/database"
	"camdesk/internal/playback"
	"camdesk/internal/recording"
)

// Deps are the services the HTTP layer routes to. DB may be nil when
// metadata is kept in memory.
type Deps struct {
	Config   *config.Config
	DB       database.Service
	Recorder *recording.Manager
	Playback *playback.Controller
	Catalog  *catalog.Service
	Academy  *academy.Client
	Accounts *auth.Accounts
	JWT      *auth.JWTService
	Logger   *slog.Logger
}

type FiberServer struct {
	*fiber.App
	cfg      *config.Config
	db       database.Service
	recorder *recording.Manager
	playback *playback.Controller
	catalog  *catalog.Service
	academy  *academy.Client
	accounts *auth.Accounts
	jwt      *auth.JWTService
	logger   *slog.Logger

	// ctx is cancelled on shutdown so open event streams return.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(deps Deps) *FiberServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	cfg := deps.Config

	s := &FiberServer{
		cfg:      cfg,
		db:       deps.DB,
		recorder: deps.Recorder,
		playback: deps.Playback,
		catalog:  deps.Catalog,
		academy:  deps.Academy,
		accounts: deps.Accounts,
		jwt:      deps.JWT,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.App = fiber.New(fiber.Config{
		ServerHeader: "camdesk",
		AppName:      "camdesk",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: s.errorHandler,
	})
	s.applyMiddleware()

	return s
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(recover.New())
	s.App.Use(requestid.New())
	s.App.Use(s.requestLogger)

	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	if s.cfg.Security.RateLimit > 0 {
		s.App.Use(limiter.New(limiter.Config{
			Max:        s.cfg.Security.RateLimit,
			Expiration: s.cfg.Security.RateWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP() // limit by IP address
			},
			Next: func(c *fiber.Ctx) bool {
				// long-lived viewer channels are not counted
				return strings.HasSuffix(c.Path(), "/events") || strings.HasPrefix(c.Path(), "/ws/")
			},
		}))
	}
}

func (s *FiberServer) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"request_id", c.Locals(requestid.ConfigDefault.ContextKey),
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"latency", time.Since(start),
	)
	return err
}

// errorHandler writes {"error", "code"} for every failed request. Only
// unexpected failures are logged.
func (s *FiberServer) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": fe.Message,
		})
	}

	kind := apperr.KindOf(err)
	message := "internal server error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
	}
	if kind == apperr.KindInternal {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(apperr.HTTPStatus(kind)).JSON(fiber.Map{
		"error": message,
		"code":  kind,
	})
}

// Shutdown stops accepting requests, ends open event streams and waits
// for in-flight requests until ctx expires.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.cancel()
	var err error
	if s.playback != nil {
		err = multierr.Append(err, s.playback.Shutdown())
	}
	return multierr.Append(err, s.App.ShutdownWithContext(ctx))
}
