// Package catalog lists, describes and deletes the recordings on disk and
// keeps their metadata in a Repository.
package catalog

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"camdesk/internal/apperr"
	"camdesk/internal/recording"
)

// ViewerCloser force-closes the viewers of a recording.
type ViewerCloser interface {
	CloseClientsForRecording(recordingID string)
}

// ActiveSession reports the id of the recording in progress, or "".
type ActiveSession interface {
	ActiveSessionID() string
}

type Service struct {
	dir     string
	repo    Repository
	active  ActiveSession
	viewers ViewerCloser
	logger  *slog.Logger
}

func NewService(dir string, repo Repository, active ActiveSession, viewers ViewerCloser, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dir:     dir,
		repo:    repo,
		active:  active,
		viewers: viewers,
		logger:  logger.With("component", "catalog"),
	}
}

// Path returns the file path of a recording.
func (s *Service) Path(sessionID string) string {
	return filepath.Join(s.dir, recording.FilenameFor(sessionID))
}

// OnFinalize stores a finished session. It is installed as the recording
// manager's finalize hook.
func (s *Service) OnFinalize(sess recording.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Save(ctx, sess); err != nil {
		s.logger.Error("failed to save recording metadata", "session_id", sess.SessionID, "error", err)
		return
	}
	s.logger.Info("recording finalized",
		"session_id", sess.SessionID,
		"status", sess.Status,
		"max_duration_reached", sess.MaxDurationReached,
	)
}

// Save stores the metadata of a terminal session.
func (s *Service) Save(ctx context.Context, sess recording.Session) error {
	if !sess.Status.Terminal() {
		return apperr.New(apperr.KindConflict, "session is still in progress")
	}
	return s.repo.Save(ctx, FromSession(sess))
}

// List returns the recordings on disk, newest first, merged with stored
// metadata. The recording in progress is left out.
func (s *Service) List(ctx context.Context) ([]Recording, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Recording{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to read recordings directory", err)
	}

	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load recording metadata", err)
	}
	byID := make(map[string]Recording, len(stored))
	for _, r := range stored {
		byID[r.SessionID] = r
	}

	activeID := s.activeID()
	out := []Recording{}
	for _, e := range entries {
		id, ok := sessionIDFromFilename(e.Name())
		if !ok || e.IsDir() || id == activeID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, merge(id, info, byID))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID > out[j].SessionID })
	return out, nil
}

// Get describes a single recording.
func (s *Service) Get(ctx context.Context, sessionID string) (*Recording, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.Path(sessionID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "recording not found", err)
	}

	byID := map[string]Recording{}
	stored, err := s.repo.Get(ctx, sessionID)
	switch {
	case err == nil:
		byID[sessionID] = *stored
	case !errors.Is(err, ErrNotFound):
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load recording metadata", err)
	}

	r := merge(sessionID, info, byID)
	return &r, nil
}

// Delete closes every viewer of the recording, then removes its file and
// metadata. The recording in progress cannot be deleted.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	if sessionID == s.activeID() {
		return apperr.New(apperr.KindConflict, "cannot delete the recording in progress")
	}

	path := s.Path(sessionID)
	if _, err := os.Stat(path); err != nil {
		if _, repoErr := s.repo.Get(ctx, sessionID); repoErr != nil {
			return apperr.Wrap(apperr.KindNotFound, "recording not found", err)
		}
	}

	if s.viewers != nil {
		s.viewers.CloseClientsForRecording(sessionID)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.KindInternal, "failed to remove recording file", err)
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return apperr.Wrap(apperr.KindInternal, "failed to remove recording metadata", err)
	}

	s.logger.Info("recording deleted", "session_id", sessionID)
	return nil
}

// MarkPublished records that the recording was pushed to the academy.
func (s *Service) MarkPublished(ctx context.Context, r Recording, at time.Time) error {
	err := s.repo.MarkPublished(ctx, r.SessionID, at)
	if errors.Is(err, ErrNotFound) {
		r.PublishedAt = &at
		err = s.repo.Save(ctx, r)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to store publish time", err)
	}
	return nil
}

func (s *Service) activeID() string {
	if s.active == nil {
		return ""
	}
	return s.active.ActiveSessionID()
}

// ValidateID rejects anything that is not a session id, which also keeps
// ids from escaping the recordings directory.
func ValidateID(sessionID string) error {
	if !recording.ValidSessionID(sessionID) {
		return apperr.Invalid("id", "must look like rec_YYYY-MM-DDTHH-MM-SSZ")
	}
	return nil
}

func sessionIDFromFilename(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, recording.FileExtension)
	if !ok || !recording.ValidSessionID(id) {
		return "", false
	}
	return id, true
}

// merge builds the listing entry for id from its file and stored metadata.
// Files without metadata are reported as completed.
func merge(id string, info fs.FileInfo, byID map[string]Recording) Recording {
	r, ok := byID[id]
	if !ok {
		r = Recording{
			SessionID: id,
			Filename:  recording.FilenameFor(id),
			Status:    recording.StatusCompleted,
		}
		if t, err := recording.ParseSessionID(id); err == nil {
			r.StartedAt = t.UTC()
		}
	}
	r.FileSize = info.Size()
	return r
}
