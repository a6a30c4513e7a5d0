package recording

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// MaxDuration is the hard cap on a single recording.
const MaxDuration = 900 * time.Second

// FileExtension is appended to the session id to name the output file.
const FileExtension = ".mp4"

const sessionIDLayout = "2006-01-02T15-04-05Z"

var sessionIDPattern = regexp.MustCompile(`^rec_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}Z$`)

type SessionStatus string

const (
	StatusStarting    SessionStatus = "starting"
	StatusRecording   SessionStatus = "recording"
	StatusStopping    SessionStatus = "stopping"
	StatusCompleted   SessionStatus = "completed"
	StatusFailed      SessionStatus = "failed"
	StatusInterrupted SessionStatus = "interrupted"
)

// Terminal reports whether a session in this status is finished and a new
// one may be started.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// Session is the state of one recording attempt. Nullable fields stay nil
// until the session is finalized.
type Session struct {
	SessionID          string        `json:"sessionId"`
	Status             SessionStatus `json:"status"`
	Filename           string        `json:"filename"`
	FilePath           string        `json:"-"`
	StartedAt          time.Time     `json:"startedAt"`
	EndedAt            *time.Time    `json:"endedAt"`
	Duration           *int          `json:"duration"`
	FileSize           *int64        `json:"fileSize"`
	MaxDurationReached bool          `json:"maxDurationReached"`
	Error              *string       `json:"error"`
}

// StartResult is what a successful start hands back to the caller.
type StartResult struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Filename  string        `json:"filename"`
	StartedAt time.Time     `json:"startedAt"`
}

// NewSessionID formats t as rec_YYYY-MM-DDTHH-MM-SSZ in UTC.
func NewSessionID(t time.Time) string {
	return "rec_" + t.UTC().Format(sessionIDLayout)
}

// ValidSessionID reports whether id has the session id format.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ParseSessionID returns the start instant encoded in a session id.
func ParseSessionID(id string) (time.Time, error) {
	if !ValidSessionID(id) {
		return time.Time{}, fmt.Errorf("invalid session id %q", id)
	}
	return time.Parse(sessionIDLayout, strings.TrimPrefix(id, "rec_"))
}

// FilenameFor returns the output file name for a session id.
func FilenameFor(sessionID string) string {
	return sessionID + FileExtension
}

func newSession(now time.Time, dir string) *Session {
	id := NewSessionID(now)
	filename := FilenameFor(id)
	return &Session{
		SessionID: id,
		Status:    StatusStarting,
		Filename:  filename,
		FilePath:  filepath.Join(dir, filename),
		StartedAt: now.UTC(),
	}
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		c.Duration = &d
	}
	if s.FileSize != nil {
		n := *s.FileSize
		c.FileSize = &n
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

func (s *Session) startResult() StartResult {
	return StartResult{
		SessionID: s.SessionID,
		Status:    s.Status,
		Filename:  s.Filename,
		StartedAt: s.StartedAt,
	}
}

// durationSeconds is the elapsed wall time rounded to whole seconds and
// clamped to [0, MaxDuration].
func durationSeconds(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	if d > MaxDuration {
		d = MaxDuration
	}
	return int(d.Round(time.Second) / time.Second)
}
