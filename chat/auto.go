package chat

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/onnwee/renai/telemetry"
)

const (
	DefaultTick          = time.Second
	DefaultIdleThreshold = 25 * time.Second
)

// SchedulerOptions configures NewScheduler. Zero values pick the defaults.
type SchedulerOptions struct {
	Tick          time.Duration
	IdleThreshold time.Duration
	Triggers      Triggers
	Now           func() time.Time
	Rand          *rand.Rand
}

// Scheduler posts greeting and idle triggers to the channel.
type Scheduler struct {
	state    *State
	sender   Sender
	triggers Triggers
	tick     time.Duration
	idle     time.Duration
	now      func() time.Time

	rmu sync.Mutex
	rng *rand.Rand
}

// NewScheduler returns a scheduler speaking through sender.
func NewScheduler(state *State, sender Sender, opts SchedulerOptions) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.Triggers == nil {
		opts.Triggers = DefaultTriggers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &Scheduler{
		state:    state,
		sender:   sender,
		triggers: opts.Triggers,
		tick:     opts.Tick,
		idle:     opts.IdleThreshold,
		now:      opts.Now,
		rng:      opts.Rand,
	}
}

// Run ticks until ctx is done.
//
// Env knobs (via config): tick (default 1s), idle_threshold (default 25s).
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	slog.Info("auto conversation: started", slog.Duration("tick", s.tick), slog.Duration("idle_threshold", s.idle))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Tick runs one scheduling step at now and returns what was sent, if
// anything. Nothing happens until the front end has been loaded, nor while
// a user interaction holds the pause.
func (s *Scheduler) Tick(now time.Time) (sent string, ok bool) {
	if !s.state.Loaded() || s.state.Paused() {
		return "", false
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	if !s.state.Greeted() {
		text, found := s.triggers.Pick(GreetingCategory, s.rng)
		s.state.MarkGreeted()
		if !found {
			slog.Warn("auto conversation: no greeting triggers configured")
			return "", false
		}
		s.sender.Send(text)
		s.state.Touch(now)
		telemetry.IncAutoMessage(GreetingCategory)
		slog.Info("auto conversation: greeted channel")
		return text, true
	}

	if now.Sub(s.state.LastActivity()) <= s.idle {
		return "", false
	}
	text, cat, found := s.triggers.PickNonGreeting(s.rng)
	if !found {
		return "", false
	}
	s.sender.Send(text)
	s.state.Touch(now)
	telemetry.IncAutoMessage(cat)
	slog.Debug("auto conversation: idle trigger sent", slog.String("category", cat))
	return text, true
}
