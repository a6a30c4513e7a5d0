package playback

import "time"

type PlayerState string

const (
	StateIdle    PlayerState = "idle"
	StatePlaying PlayerState = "playing"
	StatePaused  PlayerState = "paused"
	StateEnded   PlayerState = "ended"
	StateError   PlayerState = "error"
)

// Reportable reports whether a player may report s. idle is only ever the
// initial state.
func (s PlayerState) Reportable() bool {
	switch s {
	case StatePlaying, StatePaused, StateEnded, StateError:
		return true
	}
	return false
}

// State is the last known playback status of one recording.
type State struct {
	RecordingID  string      `json:"recordingId"`
	State        PlayerState `json:"state"`
	Position     float64     `json:"position"`
	ConnectedAt  time.Time   `json:"connectedAt"`
	LastUpdated  time.Time   `json:"lastUpdated"`
	ErrorMessage *string     `json:"errorMessage"`
}

func (s *State) clone() *State {
	c := *s
	if s.ErrorMessage != nil {
		m := *s.ErrorMessage
		c.ErrorMessage = &m
	}
	return &c
}

type Action string

const (
	ActionPlay Action = "play"
	ActionStop Action = "stop"
	ActionSeek Action = "seek"
)

// Command is pushed to every viewer of a recording. Position is only set
// for seek.
type Command struct {
	Action   Action   `json:"action"`
	Position *float64 `json:"position,omitempty"`
}

func Play() Command { return Command{Action: ActionPlay} }

func Stop() Command { return Command{Action: ActionStop} }

func Seek(position float64) Command {
	return Command{Action: ActionSeek, Position: &position}
}

// Result is the optimistic outcome of a dispatched command.
type Result struct {
	Status   PlayerState `json:"status"`
	Position float64     `json:"position"`
}

// CalculateSeekPosition returns current+delta, never below zero. There is
// no upper bound; the player detects the end of media.
func CalculateSeekPosition(current, delta float64) float64 {
	if p := current + delta; p > 0 {
		return p
	}
	return 0
}
