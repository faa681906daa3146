package chat

import (
	"sync/atomic"
	"time"
)

// State is the conversation state shared by the scheduler and the HTTP
// handlers. Every field is an independent atomic; no operation needs more
// than one of them to change together.
type State struct {
	loaded       atomic.Bool
	paused       atomic.Bool
	greeted      atomic.Bool
	lastActivity atomic.Int64 // unix nanos
}

// NewState returns a paused, not yet greeted state with activity at now.
func NewState(now time.Time) *State {
	s := &State{}
	s.paused.Store(true)
	s.lastActivity.Store(now.UnixNano())
	return s
}

// MarkLoaded records that the web front end was served at least once.
func (s *State) MarkLoaded() { s.loaded.Store(true) }

func (s *State) Loaded() bool  { return s.loaded.Load() }
func (s *State) Paused() bool  { return s.paused.Load() }
func (s *State) Greeted() bool { return s.greeted.Load() }

// MarkGreeted records that the greeting was sent.
func (s *State) MarkGreeted() { s.greeted.Store(true) }

// LastActivity returns the last time someone, user or bot, spoke.
func (s *State) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// Touch moves the activity mark to now.
func (s *State) Touch(now time.Time) { s.lastActivity.Store(now.UnixNano()) }

// UserActivity is called when a user interacts over HTTP: the activity mark
// moves and the scheduler is paused.
func (s *State) UserActivity(now time.Time) {
	s.Touch(now)
	s.paused.Store(true)
}

// Resume is called once the user interaction is over (TTS playback ended or
// the timer was reset explicitly).
func (s *State) Resume(now time.Time) {
	s.Touch(now)
	s.paused.Store(false)
}

// StateSnapshot is a JSON-friendly copy of State.
type StateSnapshot struct {
	Loaded       bool      `json:"loaded"`
	Paused       bool      `json:"paused"`
	Greeted      bool      `json:"greeted"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot copies the current values.
func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		Loaded:       s.Loaded(),
		Paused:       s.Paused(),
		Greeted:      s.Greeted(),
		LastActivity: s.LastActivity(),
	}
}
