// Package academy pushes finished recordings to the external academy
// platform.
package academy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"camdesk/internal/apperr"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Upload describes one recording sent to the academy.
type Upload struct {
	SessionID string
	FilePath  string
	Duration  *int
}

// PublishResult is the academy's answer to an upload.
type PublishResult struct {
	RemoteID string `json:"id"`
	URL      string `json:"url,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: timeout,
		logger:  logger.With("component", "academy"),
	}
}

// Enabled reports whether an academy endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// PublishRecording uploads the file as multipart form data to
// {base}/recordings.
func (c *Client) PublishRecording(u Upload) (*PublishResult, error) {
	if !c.Enabled() {
		return nil, apperr.New(apperr.KindUnavailable, "academy sync is not configured")
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("session_id", u.SessionID)
	if u.Duration != nil {
		args.Set("duration", strconv.Itoa(*u.Duration))
	}

	agent := fiber.Post(c.baseURL + "/recordings").
		Timeout(c.timeout).
		SendFile(u.FilePath, "file").
		MultipartForm(args)
	if c.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return nil, apperr.Wrap(apperr.KindInternal, "invalid academy url", err)
	}

	start := time.Now()
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		c.logger.Error("academy upload failed", "session_id", u.SessionID, "error", errs[0])
		return nil, apperr.Wrap(apperr.KindInternal, "failed to reach academy", errs[0])
	}
	if code < 200 || code > 299 {
		c.logger.Warn("academy rejected upload", "session_id", u.SessionID, "status", code)
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("academy responded with status %d", code))
	}

	var res PublishResult
	if len(body) > 0 {
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "invalid academy response", err)
		}
	}

	c.logger.Info("recording published",
		"session_id", u.SessionID,
		"remote_id", res.RemoteID,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return &res, nil
}
