// Package recording owns the lifecycle of the single webcam recording: it
// spawns and stops the capture process, enforces that only one recording is
// active at a time and caps every recording at MaxDuration.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"camdesk/internal/apperr"
)

// DefaultStopGracePeriod bounds how long Stop waits for the capture process
// to exit after the interrupt signal.
const DefaultStopGracePeriod = 5 * time.Second

// capTolerance is how far short of MaxDuration a clean capture exit still
// counts as reaching the cap.
const capTolerance = time.Second

// Option customises Manager construction.
type Option func(*Manager)

// WithClock injects a custom clock (primarily for tests).
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithStopGracePeriod overrides DefaultStopGracePeriod.
func WithStopGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithFinalizeHook registers fn to receive a copy of every session that
// reaches a terminal state after its capture process ran. fn is called
// without the manager lock held.
func WithFinalizeHook(fn func(Session)) Option {
	return func(m *Manager) {
		m.onFinalize = fn
	}
}

// Manager serializes the lifecycle of the one active recording.
type Manager struct {
	capturer   Capturer
	dir        string
	grace      time.Duration
	clock      Clock
	onFinalize func(Session)

	mu       sync.Mutex
	session  *Session
	starting bool
	run      *activeRun
}

// activeRun tracks the capture process behind the current session.
type activeRun struct {
	session       *Session
	proc          Process
	capTimer      Timer
	stopRequested bool
	exited        chan struct{}
	exitErr       error
}

// NewManager creates a manager writing recordings into dir.
func NewManager(capturer Capturer, dir string, opts ...Option) *Manager {
	m := &Manager{
		capturer: capturer,
		dir:      dir,
		grace:    DefaultStopGracePeriod,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a new recording. It fails with CONFLICT while another
// session is in flight, and with FFMPEG_NOT_FOUND or WEBCAM_UNREACHABLE
// when the capture preconditions do not hold.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.mu.Lock()
	if m.starting || (m.session != nil && !m.session.Status.Terminal()) {
		m.mu.Unlock()
		return StartResult{}, apperr.New(apperr.KindConflict, "a recording is already in progress")
	}
	m.starting = true
	m.mu.Unlock()

	if err := m.preflight(ctx); err != nil {
		m.releaseStart()
		return StartResult{}, err
	}

	m.mu.Lock()
	now := m.clock.Now()
	if m.session != nil && m.session.SessionID == NewSessionID(now) {
		m.starting = false
		m.mu.Unlock()
		return StartResult{}, apperr.New(apperr.KindConflict, "a recording was already started this second, try again")
	}
	s := newSession(now, m.dir)
	m.session = s
	m.mu.Unlock()

	proc, err := m.capturer.Start(s.FilePath, MaxDuration)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false

	if err != nil {
		now := m.clock.Now().UTC()
		msg := fmt.Sprintf("failed to start capture process: %v", err)
		zero := 0
		s.Status = StatusFailed
		s.EndedAt = &now
		s.Duration = &zero
		s.Error = &msg
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return StartResult{}, apperr.Wrap(apperr.KindFFmpegNotFound, "ffmpeg binary not found", err)
		}
		return StartResult{}, apperr.Wrap(apperr.KindInternal, "failed to start recording", err)
	}

	s.Status = StatusRecording
	run := &activeRun{
		session: s,
		proc:    proc,
		exited:  make(chan struct{}),
	}
	run.capTimer = m.clock.AfterFunc(MaxDuration, func() {
		_, _ = m.stop(run, true)
	})
	m.run = run
	go m.watch(run)

	return s.startResult(), nil
}

func (m *Manager) preflight(ctx context.Context) error {
	if err := m.capturer.CheckBinary(); err != nil {
		return apperr.Wrap(apperr.KindFFmpegNotFound, "ffmpeg binary not found", err)
	}
	if err := m.capturer.ProbeDevice(ctx); err != nil {
		return apperr.Wrap(apperr.KindWebcamUnreachable, "webcam is unreachable", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to create recordings directory", err)
	}
	return nil
}

func (m *Manager) releaseStart() {
	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
}

// Stop gracefully ends the active recording and returns the finalized
// session. It fails with NOT_FOUND when nothing is recording.
func (m *Manager) Stop() (*Session, error) {
	return m.stop(nil, false)
}

// stop moves run from recording to stopping and finalizes it. A nil run
// means whichever run is current. The first caller to make the transition
// wins; the duration cap and an explicit stop never both finalize.
func (m *Manager) stop(run *activeRun, capReached bool) (*Session, error) {
	m.mu.Lock()
	if run == nil {
		if m.session == nil || m.session.Status.Terminal() {
			m.mu.Unlock()
			return nil, apperr.New(apperr.KindNotFound, "no active recording")
		}
		switch m.session.Status {
		case StatusStarting:
			m.mu.Unlock()
			return nil, apperr.New(apperr.KindConflict, "recording is still starting")
		case StatusStopping:
			m.mu.Unlock()
			return nil, apperr.New(apperr.KindConflict, "recording is already stopping")
		}
		run = m.run
	} else if m.run != run || run.session.Status != StatusRecording {
		m.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "recording already finished")
	}

	s := run.session
	s.Status = StatusStopping
	s.MaxDurationReached = capReached
	run.stopRequested = true
	run.capTimer.Stop()
	m.mu.Unlock()

	_ = run.proc.Signal(os.Interrupt)

	forced := false
	select {
	case <-run.exited:
	case <-m.clock.After(m.grace):
		_ = run.proc.Kill()
		<-run.exited
		forced = true
	}

	m.mu.Lock()
	if forced {
		m.finalizeLocked(s, StatusFailed,
			fmt.Sprintf("capture process did not exit within %s and was killed", m.grace))
	} else {
		m.finalizeLocked(s, StatusCompleted, "")
	}
	m.run = nil
	snapshot := s.clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return snapshot, nil
}

// watch waits for the capture process and finalizes the session when the
// process exits without a stop having been requested.
func (m *Manager) watch(run *activeRun) {
	err := run.proc.Wait()

	m.mu.Lock()
	run.exitErr = err
	close(run.exited)
	if run.stopRequested {
		m.mu.Unlock()
		return
	}

	run.capTimer.Stop()
	s := run.session
	if err != nil {
		m.finalizeLocked(s, StatusInterrupted, fmt.Sprintf("capture process exited unexpectedly: %v", err))
	} else {
		// ffmpeg stops itself at -t, possibly just before the cap timer
		s.MaxDurationReached = m.clock.Now().Sub(s.StartedAt) >= MaxDuration-capTolerance
		m.finalizeLocked(s, StatusCompleted, "")
	}
	if m.run == run {
		m.run = nil
	}
	snapshot := s.clone()
	m.mu.Unlock()

	m.notify(snapshot)
}

// finalizeLocked stamps the terminal fields of s. A completed session whose
// output file is missing is downgraded to failed.
func (m *Manager) finalizeLocked(s *Session, status SessionStatus, errMsg string) {
	now := m.clock.Now().UTC()
	d := durationSeconds(s.StartedAt, now)
	s.EndedAt = &now
	s.Duration = &d

	info, err := os.Stat(s.FilePath)
	if err == nil {
		size := info.Size()
		s.FileSize = &size
	} else if status == StatusCompleted {
		status = StatusFailed
		errMsg = fmt.Sprintf("recording file not found: %s", s.Filename)
	}

	s.Status = status
	if errMsg != "" {
		s.Error = &errMsg
	}
}

func (m *Manager) notify(s *Session) {
	if m.onFinalize != nil && s != nil {
		m.onFinalize(*s)
	}
}

// IsRecording reports whether a session is currently in flight.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && !m.session.Status.Terminal()
}

// State returns a copy of the latest session, or nil if no recording was
// ever started.
func (m *Manager) State() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// ActiveSessionID returns the id of the in-flight session, or "".
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status.Terminal() {
		return ""
	}
	return m.session.SessionID
}

// Shutdown stops the active recording, if any. It is used when the process
// is exiting and waits at most the grace period plus the kill.
func (m *Manager) Shutdown() error {
	_, err := m.Stop()
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return nil
}
