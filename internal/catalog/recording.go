package catalog

import (
	"context"
	"errors"
	"time"

	"camdesk/internal/recording"
)

// ErrNotFound is returned by repositories for unknown session ids.
var ErrNotFound = errors.New("recording not found")

// Recording is a finished recording as listed to operators.
type Recording struct {
	SessionID          string                  `bson:"session_id" json:"sessionId"`
	Filename           string                  `bson:"filename" json:"filename"`
	Status             recording.SessionStatus `bson:"status" json:"status"`
	StartedAt          time.Time               `bson:"started_at" json:"startedAt"`
	EndedAt            *time.Time              `bson:"ended_at,omitempty" json:"endedAt"`
	Duration           *int                    `bson:"duration,omitempty" json:"duration"`
	FileSize           int64                   `bson:"file_size" json:"fileSize"`
	MaxDurationReached bool                    `bson:"max_duration_reached" json:"maxDurationReached"`
	Error              string                  `bson:"error,omitempty" json:"error,omitempty"`
	PublishedAt        *time.Time              `bson:"published_at,omitempty" json:"publishedAt,omitempty"`
}

// FromSession converts a finalized session into its catalog entry.
func FromSession(s recording.Session) Recording {
	r := Recording{
		SessionID:          s.SessionID,
		Filename:           s.Filename,
		Status:             s.Status,
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		Duration:           s.Duration,
		MaxDurationReached: s.MaxDurationReached,
	}
	if s.FileSize != nil {
		r.FileSize = *s.FileSize
	}
	if s.Error != nil {
		r.Error = *s.Error
	}
	return r
}

// Repository stores recording metadata. The file itself lives on disk.
type Repository interface {
	Save(ctx context.Context, r Recording) error
	Get(ctx context.Context, sessionID string) (*Recording, error)
	List(ctx context.Context) ([]Recording, error)
	Delete(ctx context.Context, sessionID string) error
	MarkPublished(ctx context.Context, sessionID string, at time.Time) error
}
