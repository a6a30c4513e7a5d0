// Package playback lets an operator drive the players watching a recording.
// Commands are pushed to every viewer and applied optimistically; the
// players' own reports are authoritative and overwrite that guess.
package playback

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"camdesk/internal/apperr"
	"camdesk/internal/channel"
)

// Controller owns the viewer registry and the per-recording playback state.
type Controller struct {
	mu       sync.Mutex
	registry *channel.Registry
	states   map[string]*State
	now      func() time.Time
}

type Option func(*Controller)

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func NewController(opts ...Option) *Controller {
	c := &Controller{
		registry: channel.NewRegistry(),
		states:   make(map[string]*State),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterClient adds h as a viewer of recordingID, creating an idle state
// on first use. The transport sends the connected event itself.
func (c *Controller) RegisterClient(recordingID string, h channel.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Add(recordingID, h)
	if _, ok := c.states[recordingID]; !ok {
		now := c.now().UTC()
		c.states[recordingID] = &State{
			RecordingID: recordingID,
			State:       StateIdle,
			ConnectedAt: now,
			LastUpdated: now,
		}
	}
}

// UnregisterClient drops h. The playback state is kept.
func (c *Controller) UnregisterClient(recordingID string, h channel.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Remove(recordingID, h)
}

// CloseClientsForRecording closes every viewer of recordingID and forgets
// its state. It is a no-op for unknown ids.
func (c *Controller) CloseClientsForRecording(recordingID string) {
	c.mu.Lock()
	handles := c.registry.RemoveAll(recordingID)
	delete(c.states, recordingID)
	c.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}

// ViewerCount returns the number of open viewers of recordingID.
func (c *Controller) ViewerCount(recordingID string) int {
	return len(c.registry.Snapshot(recordingID))
}

// DispatchCommand pushes cmd to every viewer of recordingID and applies it
// to the stored state. It fails with NOT_FOUND if no viewer ever registered.
func (c *Controller) DispatchCommand(recordingID string, cmd Command) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[recordingID]
	if !ok {
		return Result{}, apperr.New(apperr.KindNotFound, "no player registered for recording")
	}
	return c.applyLocked(recordingID, st, cmd), nil
}

// SeekBy moves the playback position of recordingID by delta seconds,
// clamped at zero, and dispatches the resulting seek.
func (c *Controller) SeekBy(recordingID string, delta float64) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[recordingID]
	if !ok {
		return Result{}, apperr.New(apperr.KindNotFound, "no player registered for recording")
	}
	return c.applyLocked(recordingID, st, Seek(CalculateSeekPosition(st.Position, delta))), nil
}

// applyLocked fans cmd out and updates st. Sends never block, so holding
// the lock keeps commands for one recording in arrival order.
func (c *Controller) applyLocked(recordingID string, st *State, cmd Command) Result {
	ev := channel.Event{Name: channel.EventCommand, Data: cmd}
	for _, h := range c.registry.Snapshot(recordingID) {
		if err := h.Send(ev); err != nil {
			c.registry.Remove(recordingID, h)
			_ = h.Close()
		}
	}

	switch cmd.Action {
	case ActionPlay:
		st.State = StatePlaying
	case ActionStop:
		st.State = StatePaused
	case ActionSeek:
		st.Position = *cmd.Position
	}
	st.LastUpdated = c.now().UTC()

	return Result{Status: st.State, Position: st.Position}
}

func validateCommand(cmd Command) error {
	switch cmd.Action {
	case ActionPlay, ActionStop:
		return nil
	case ActionSeek:
		if cmd.Position == nil {
			return apperr.Invalid("position", "is required for seek")
		}
		if *cmd.Position < 0 {
			return apperr.Invalid("position", "must be >= 0")
		}
		return nil
	default:
		return apperr.Invalid("action", "must be one of play, stop, seek")
	}
}

// UpdatePlayerState records what the player actually reports. It returns
// false when no viewer ever registered for recordingID.
func (c *Controller) UpdatePlayerState(recordingID string, state PlayerState, position float64, message *string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[recordingID]
	if !ok {
		return false
	}
	if position < 0 {
		position = 0
	}
	st.State = state
	st.Position = position
	st.LastUpdated = c.now().UTC()
	if message != nil {
		m := *message
		st.ErrorMessage = &m
	} else {
		st.ErrorMessage = nil
	}
	return true
}

// PlaybackState returns a copy of the state for recordingID, or nil.
func (c *Controller) PlaybackState(recordingID string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[recordingID]
	if !ok {
		return nil
	}
	return st.clone()
}

// Shutdown closes every viewer.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	handles := c.registry.Drain()
	c.mu.Unlock()

	var err error
	for _, h := range handles {
		err = multierr.Append(err, h.Close())
	}
	return err
}
