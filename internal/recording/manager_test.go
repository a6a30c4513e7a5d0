package recording

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camdesk/internal/apperr"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	ch      chan time.Time
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t.ch
}

// Advance moves time forward and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		if t.fn != nil {
			go t.fn()
		} else {
			t.ch <- now
		}
	}
}

// skip moves time forward without firing timers, as if a timer were
// about to fire but had not yet been scheduled.
func (c *fakeClock) skip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// firstFunc returns the callback of the first AfterFunc timer.
func (c *fakeClock) firstFunc() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if t.fn != nil {
			return t.fn
		}
	}
	return nil
}

// waiters counts pending After channels.
func (c *fakeClock) waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.ch != nil && !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeProcess struct {
	ignoreInterrupt bool
	once            sync.Once
	done            chan struct{}
	err             error
	signals         atomic.Int32
	killed          atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.signals.Add(1)
	if !p.ignoreInterrupt {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

type fakeCapturer struct {
	binaryErr error
	probeErr  error
	startErr  error
	noFile    bool
	ignoreInt bool

	mu     sync.Mutex
	starts int
	procs  []*fakeProcess
	paths  []string
}

func (c *fakeCapturer) CheckBinary() error { return c.binaryErr }

func (c *fakeCapturer) ProbeDevice(ctx context.Context) error { return c.probeErr }

func (c *fakeCapturer) Start(outputPath string, maxDuration time.Duration) (Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return nil, c.startErr
	}
	if !c.noFile {
		if err := os.WriteFile(outputPath, []byte("fake mp4 payload"), 0o644); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess()
	p.ignoreInterrupt = c.ignoreInt
	c.procs = append(c.procs, p)
	c.paths = append(c.paths, outputPath)
	return p, nil
}

func (c *fakeCapturer) lastProcess() *fakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.procs[len(c.procs)-1]
}

func newTestManager(t *testing.T, capturer *fakeCapturer, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewManager(capturer, t.TempDir(), opts...), clock
}

func TestStartAndStop(t *testing.T) {
	capturer := &fakeCapturer{}
	var finalized []Session
	var hookMu sync.Mutex
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(s Session) {
		hookMu.Lock()
		finalized = append(finalized, s)
		hookMu.Unlock()
	}))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rec_2024-03-15T14-30-00Z", res.SessionID)
	assert.Equal(t, "rec_2024-03-15T14-30-00Z.mp4", res.Filename)
	assert.Equal(t, StatusRecording, res.Status)
	assert.True(t, m.IsRecording())
	assert.Equal(t, res.SessionID, m.ActiveSessionID())

	clock.Advance(5 * time.Second)

	s, err := m.Stop()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.Duration)
	assert.Equal(t, 5, *s.Duration)
	require.NotNil(t, s.FileSize)
	assert.Equal(t, int64(len("fake mp4 payload")), *s.FileSize)
	assert.False(t, s.MaxDurationReached)
	assert.Nil(t, s.Error)
	assert.False(t, m.IsRecording())
	assert.Empty(t, m.ActiveSessionID())

	hookMu.Lock()
	defer hookMu.Unlock()
	require.Len(t, finalized, 1)
	assert.Equal(t, res.SessionID, finalized[0].SessionID)
}

func TestStopWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCapturer{})

	_, err := m.Stop()
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Nil(t, m.State())
	assert.NoError(t, m.Shutdown())
}

func TestStopAfterCompletedSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCapturer{})

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	_, err = m.Stop()
	require.NoError(t, err)

	_, err = m.Stop()
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStartConflict(t *testing.T) {
	capturer := &fakeCapturer{}
	m, _ := newTestManager(t, capturer)

	first, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	state := m.State()
	require.NotNil(t, state)
	assert.Equal(t, first.SessionID, state.SessionID)
	assert.Equal(t, StatusRecording, state.Status)
	assert.Equal(t, 1, capturer.starts)
}

func TestConcurrentStartSpawnsOnce(t *testing.T) {
	capturer := &fakeCapturer{}
	m, _ := newTestManager(t, capturer)

	const callers = 16
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(context.Background())
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.Is(err, apperr.KindConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	assert.Equal(t, 1, capturer.starts)
}

func TestStartPreflightFailures(t *testing.T) {
	tests := []struct {
		name     string
		capturer *fakeCapturer
		kind     apperr.Kind
	}{
		{
			name:     "missing binary",
			capturer: &fakeCapturer{binaryErr: errors.New("exec: \"ffmpeg\": executable file not found in $PATH")},
			kind:     apperr.KindFFmpegNotFound,
		},
		{
			name:     "unreachable webcam",
			capturer: &fakeCapturer{probeErr: errors.New("connection refused")},
			kind:     apperr.KindWebcamUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, tt.capturer)

			_, err := m.Start(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Nil(t, m.State())
			assert.False(t, m.IsRecording())
			assert.Equal(t, 0, tt.capturer.starts)

			// the manager is usable once the precondition clears
			tt.capturer.binaryErr = nil
			tt.capturer.probeErr = nil
			_, err = m.Start(context.Background())
			assert.NoError(t, err)
		})
	}
}

func TestStartSpawnFailure(t *testing.T) {
	capturer := &fakeCapturer{startErr: errors.New("permission denied")}
	hookCalled := false
	m, _ := newTestManager(t, capturer, WithFinalizeHook(func(Session) { hookCalled = true }))

	_, err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	state := m.State()
	require.NotNil(t, state)
	assert.Equal(t, StatusFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Contains(t, *state.Error, "permission denied")
	assert.False(t, m.IsRecording())
	assert.False(t, hookCalled)
}

func TestMaxDurationCap(t *testing.T) {
	capturer := &fakeCapturer{}
	m, clock := newTestManager(t, capturer)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	clock.Advance(MaxDuration)

	require.Eventually(t, func() bool {
		s := m.State()
		return s != nil && s.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	s := m.State()
	assert.True(t, s.MaxDurationReached)
	require.NotNil(t, s.Duration)
	assert.Equal(t, 900, *s.Duration)
	assert.Equal(t, int32(1), capturer.lastProcess().signals.Load())

	_, err = m.Stop()
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStopGraceTimeoutKills(t *testing.T) {
	capturer := &fakeCapturer{ignoreInt: true}
	m, clock := newTestManager(t, capturer, WithStopGracePeriod(2*time.Second))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	clock.Advance(10 * time.Second)

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.Stop()
		done <- result{s, err}
	}()

	require.Eventually(t, func() bool { return clock.waiters() == 1 }, time.Second, 5*time.Millisecond)

	// a second stop while the first is waiting
	_, err = m.Stop()
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	clock.Advance(2 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusFailed, res.s.Status)
	require.NotNil(t, res.s.Error)
	assert.Contains(t, *res.s.Error, "killed")
	assert.True(t, capturer.lastProcess().killed.Load())
	assert.Equal(t, 12, *res.s.Duration)
}

func TestUnexpectedExit(t *testing.T) {
	capturer := &fakeCapturer{}
	hook := make(chan Session, 1)
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(s Session) { hook <- s }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	clock.Advance(30 * time.Second)

	capturer.lastProcess().exit(errors.New("exit status 1: Connection reset by peer"))

	select {
	case s := <-hook:
		assert.Equal(t, StatusInterrupted, s.Status)
		require.NotNil(t, s.Error)
		assert.Contains(t, *s.Error, "Connection reset by peer")
		assert.Equal(t, 30, *s.Duration)
	case <-time.After(time.Second):
		t.Fatal("finalize hook not called")
	}
	assert.False(t, m.IsRecording())

	// a new recording may start afterwards
	clock.Advance(time.Second)
	res, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rec_2024-03-15T14-30-31Z", res.SessionID)
}

func TestMissingOutputFile(t *testing.T) {
	capturer := &fakeCapturer{noFile: true}
	m, _ := newTestManager(t, capturer)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	s, err := m.Stop()
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s.Status)
	require.NotNil(t, s.Error)
	assert.Contains(t, *s.Error, "recording file not found")
	assert.Nil(t, s.FileSize)
}

func TestStateIsCopy(t *testing.T) {
	m, _ := newTestManager(t, &fakeCapturer{})

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	s := m.State()
	s.Status = StatusFailed
	assert.Equal(t, StatusRecording, m.State().Status)
}

func TestShutdownStopsActiveRecording(t *testing.T) {
	m, _ := newTestManager(t, &fakeCapturer{})

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())
	assert.Equal(t, StatusCompleted, m.State().Status)
}

func TestCaptureExitAtCapMarksMaxDuration(t *testing.T) {
	capturer := &fakeCapturer{}
	hook := make(chan Session, 1)
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(s Session) { hook <- s }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	// ffmpeg reaches -t on its own before the cap timer runs
	clock.skip(MaxDuration)
	capturer.lastProcess().exit(nil)

	select {
	case s := <-hook:
		assert.Equal(t, StatusCompleted, s.Status)
		assert.True(t, s.MaxDurationReached)
		assert.Equal(t, 900, *s.Duration)
	case <-time.After(time.Second):
		t.Fatal("finalize hook not called")
	}
	assert.Equal(t, int32(0), capturer.lastProcess().signals.Load())
}

func TestCaptureExitBeforeCap(t *testing.T) {
	capturer := &fakeCapturer{}
	hook := make(chan Session, 1)
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(s Session) { hook <- s }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	clock.skip(2 * time.Minute)
	capturer.lastProcess().exit(nil)

	select {
	case s := <-hook:
		assert.Equal(t, StatusCompleted, s.Status)
		assert.False(t, s.MaxDurationReached)
	case <-time.After(time.Second):
		t.Fatal("finalize hook not called")
	}
}

func TestCapStopWinsOverExplicitStop(t *testing.T) {
	capturer := &fakeCapturer{ignoreInt: true}
	var hooks atomic.Int32
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(Session) { hooks.Add(1) }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	clock.Advance(MaxDuration)
	require.Eventually(t, func() bool { return clock.waiters() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusStopping, m.State().Status)

	_, err = m.Stop()
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	capturer.lastProcess().exit(nil)
	require.Eventually(t, func() bool { return m.State().Status == StatusCompleted }, time.Second, 5*time.Millisecond)

	s := m.State()
	assert.True(t, s.MaxDurationReached)
	assert.Equal(t, int32(1), capturer.lastProcess().signals.Load())
	require.Eventually(t, func() bool { return hooks.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestExplicitStopWinsOverCap(t *testing.T) {
	capturer := &fakeCapturer{ignoreInt: true}
	var hooks atomic.Int32
	m, clock := newTestManager(t, capturer, WithFinalizeHook(func(Session) { hooks.Add(1) }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	clock.Advance(time.Minute)

	done := make(chan *Session, 1)
	go func() {
		s, err := m.Stop()
		assert.NoError(t, err)
		done <- s
	}()
	require.Eventually(t, func() bool { return clock.waiters() == 1 }, time.Second, 5*time.Millisecond)

	// the cap callback runs while the explicit stop is waiting
	fire := clock.firstFunc()
	require.NotNil(t, fire)
	fire()
	assert.Equal(t, StatusStopping, m.State().Status)

	capturer.lastProcess().exit(nil)
	s := <-done
	assert.Equal(t, StatusCompleted, s.Status)
	assert.False(t, s.MaxDurationReached)
	assert.Equal(t, 60, *s.Duration)
	assert.Equal(t, int32(1), capturer.lastProcess().signals.Load())

	// and once more after finalization
	fire()
	assert.Equal(t, StatusCompleted, m.State().Status)
	assert.Equal(t, int32(1), hooks.Load())
}

func TestStartRefusesReusedSessionID(t *testing.T) {
	capturer := &fakeCapturer{}
	m, clock := newTestManager(t, capturer)

	first, err := m.Start(context.Background())
	require.NoError(t, err)
	_, err = m.Stop()
	require.NoError(t, err)

	_, err = m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, first.SessionID, m.State().SessionID)
	assert.Equal(t, StatusCompleted, m.State().Status)
	assert.Equal(t, 1, capturer.starts)

	clock.Advance(time.Second)
	second, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}
