// Package router decouples message producers (IRC, HTTP, websocket) from the
// resolver and resolved responses from their consumers.
//
// Inbound messages go through an unbounded FIFO drained by a single worker.
// Resolved responses are appended to a Log that pollers and push streams read
// through their own cursors, then handed to every registered Sink.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/renai/telemetry"
)

// ErrStopped is returned when submitting to a stopped router.
var ErrStopped = errors.New("router: stopped")

// DefaultResponder labels responses when Options.Responder is empty.
const DefaultResponder = "RenAI"

// Source identifies where a message came from.
type Source int

const (
	SourceWeb Source = iota
	SourceChat
)

func (s Source) String() string {
	switch s {
	case SourceChat:
		return "chat"
	default:
		return "web"
	}
}

// MarshalText encodes the source as its name.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a source name.
func (s *Source) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "chat":
		*s = SourceChat
	case "web", "":
		*s = SourceWeb
	default:
		return errors.New("router: unknown source " + string(b))
	}
	return nil
}

// Message is one inbound utterance.
type Message struct {
	Author    string
	Text      string
	Timestamp time.Time
	Source    Source
	CorrID    string
}

// Response is a resolved answer as stored in the response log.
type Response struct {
	Seq            uint64  `json:"seq"`
	Responder      string  `json:"user"`
	Text           string  `json:"text"`
	Timestamp      float64 `json:"timestamp"`
	OriginalAuthor string  `json:"original_user"`
	OriginalSource Source  `json:"source"`
}

// ChatEvent is a chat line observed on the channel, for push streams.
type ChatEvent struct {
	Seq       uint64  `json:"seq"`
	User      string  `json:"user"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// Resolver produces the response text for a prompt.
type Resolver interface {
	Resolve(ctx context.Context, prompt string) string
}

// Sink consumes resolved responses. Deliver runs on the worker and must not
// block for long.
type Sink interface {
	Deliver(ctx context.Context, r Response)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Response)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, r Response) { f(ctx, r) }

// Sender is the outbound half of a chat transport.
type Sender interface {
	Send(text string)
}

// ChatReplySink sends "@author text" to the channel for chat-sourced
// messages and ignores everything else.
func ChatReplySink(s Sender) Sink {
	return SinkFunc(func(_ context.Context, r Response) {
		if r.OriginalSource != SourceChat {
			return
		}
		if r.OriginalAuthor == "" {
			s.Send(r.Text)
			return
		}
		s.Send("@" + r.OriginalAuthor + " " + r.Text)
	})
}

// Options configures a Router.
type Options struct {
	Responder string
	Retention int
	Now       func() time.Time
}

type job struct {
	msg    Message
	ticket chan Response
}

// Router owns the inbound queue, the worker and the outbound logs.
type Router struct {
	resolver  Resolver
	responder string
	now       func() time.Time

	inbound   *Queue[job]
	responses *Log[Response]
	events    *Log[ChatEvent]

	mu    sync.RWMutex
	sinks []Sink

	stopOnce sync.Once
	stop     chan struct{}
	gate     sync.RWMutex // push holds it shared; abandon exclusively
}

// New returns a Router resolving with r.
func New(r Resolver, opts Options) *Router {
	if opts.Responder == "" {
		opts.Responder = DefaultResponder
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		resolver:  r,
		responder: opts.Responder,
		now:       opts.Now,
		inbound:   NewQueue[job](),
		responses: NewLog[Response](opts.Retention),
		events:    NewLog[ChatEvent](opts.Retention),
		stop:      make(chan struct{}),
	}
}

// AddSink registers s for every future response.
func (r *Router) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Submit queues msg and returns a channel that receives its response. The
// channel is closed without a value if the router stops first.
func (r *Router) Submit(msg Message) (<-chan Response, error) {
	ticket := make(chan Response, 1)
	if err := r.push(job{msg: msg, ticket: ticket}); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Enqueue queues msg without waiting for its response.
func (r *Router) Enqueue(msg Message) error {
	return r.push(job{msg: msg})
}

func (r *Router) push(j job) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.Stopped() {
		return ErrStopped
	}
	if j.msg.Timestamp.IsZero() {
		j.msg.Timestamp = r.now()
	}
	telemetry.SetInboundDepth(r.inbound.Push(j))
	return nil
}

// PublishChat records a chat line for push consumers.
func (r *Router) PublishChat(user, message string) ChatEvent {
	ts := unixSeconds(r.now())
	return r.events.Append(func(seq uint64) ChatEvent {
		return ChatEvent{Seq: seq, User: user, Message: message, Timestamp: ts}
	})
}

// Responses is the resolved response log.
func (r *Router) Responses() *Log[Response] { return r.responses }

// Events is the chat event log.
func (r *Router) Events() *Log[ChatEvent] { return r.events }

// ResponsesAfter returns retained responses newer than the unix-seconds
// watermark. It does not consume anything.
func (r *Router) ResponsesAfter(watermark float64) []Response {
	return r.responses.Since(func(resp Response) bool { return resp.Timestamp > watermark })
}

// QueueLen reports the number of messages waiting for the worker.
func (r *Router) QueueLen() int { return r.inbound.Len() }

// Stop signals the worker to exit after the item in progress.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		slog.Info("router stop requested", slog.String("component", "router"))
	})
}

// Stopped reports whether Stop was called.
func (r *Router) Stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Run is the worker loop. It returns when ctx is done or Stop is called;
// either way the router is stopped on return and later submissions fail.
// Items are resolved one at a time with a context that is not cancelled by
// ctx, so an in-flight resolution always completes.
func (r *Router) Run(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "router"))
	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-popCtx.Done():
		}
	}()

	logger.Info("resolver worker started")
	defer r.abandon(logger)
	defer r.Stop()
	for {
		if r.Stopped() {
			return nil
		}
		j, err := r.inbound.Pop(popCtx)
		if err != nil {
			return nil
		}
		telemetry.SetInboundDepth(r.inbound.Len())
		r.process(context.WithoutCancel(ctx), j)
	}
}

func (r *Router) process(ctx context.Context, j job) {
	corr := j.msg.CorrID
	if corr == "" {
		corr = uuid.NewString()
	}
	ctx = telemetry.WithCorrelation(ctx, corr)

	text := r.resolver.Resolve(ctx, j.msg.Text)
	resp := r.responses.Append(func(seq uint64) Response {
		return Response{
			Seq:            seq,
			Responder:      r.responder,
			Text:           text,
			Timestamp:      unixSeconds(r.now()),
			OriginalAuthor: j.msg.Author,
			OriginalSource: j.msg.Source,
		}
	})
	telemetry.SetOutboundLogSize(r.responses.Len())

	if j.ticket != nil {
		j.ticket <- resp
	}
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()
	for _, s := range sinks {
		s.Deliver(ctx, resp)
	}
	telemetry.LoggerWithCorr(ctx).Debug("response delivered",
		slog.String("component", "router"),
		slog.Uint64("seq", resp.Seq),
		slog.String("source", j.msg.Source.String()),
		slog.String("author", j.msg.Author))
}

// abandon releases waiters on items the worker will never process. The
// router is already stopped, so nothing can be pushed after the drain.
func (r *Router) abandon(logger *slog.Logger) {
	r.gate.Lock()
	left := r.inbound.Drain()
	r.gate.Unlock()
	for _, j := range left {
		if j.ticket != nil {
			close(j.ticket)
		}
	}
	telemetry.SetInboundDepth(0)
	logger.Info("resolver worker stopped", slog.Int("abandoned", len(left)))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
