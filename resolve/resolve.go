// Package resolve turns a raw prompt into a response by walking the answer
// tiers in order: identity rules, exact cache, containment cache, keyword
// rules, remote QA, web search and finally a fixed fallback phrase.
//
// Resolve never fails. Remote errors are logged and counted and the walk
// moves on to the next tier. Answers obtained from a remote tier are
// sanitized and written back to the cache under the normalized prompt.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/onnwee/renai/cache"
	"github.com/onnwee/renai/persona"
	"github.com/onnwee/renai/remote"
	"github.com/onnwee/renai/sanitize"
	"github.com/onnwee/renai/telemetry"
)

// Tier names the stage that produced a response.
type Tier string

const (
	TierIdentity  Tier = "identity"
	TierExact     Tier = "exact_cache"
	TierContained Tier = "contained_cache"
	TierKeyword   Tier = "keyword"
	TierQA        Tier = "qa"
	TierSearch    Tier = "search"
	TierFallback  Tier = "fallback"
)

const (
	FallbackText    = "Sorry, I couldn't find an answer to your query."
	DefaultGreeting = "Konnichiwa!"
	DefaultFarewell = "Sayonara!"
	DefaultCreator  = "my developer"
)

var (
	DefaultIdentityTriggers = []string{"who created you", "who made you", "who is your creator", "who built you"}
	DefaultGreetingWords    = []string{"hello", "hi", "hey", "konnichiwa", "good morning", "good evening", "greetings"}
	DefaultFarewellWords    = []string{"bye", "goodbye", "sayonara", "see you", "good night", "farewell"}
)

// Asker is the primary remote answer source.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Searcher is the secondary remote answer source.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Result is a resolved response with the tier that produced it.
type Result struct {
	Text string
	Tier Tier
}

// Pipeline resolves prompts. QA and Search may be nil to skip those tiers.
type Pipeline struct {
	Cache   *cache.Cache
	Persona *persona.Persona
	QA      Asker
	Search  Searcher

	IdentityTriggers []string
	GreetingWords    []string
	FarewellWords    []string
}

// New returns a Pipeline with the default trigger and keyword sets.
func New(c *cache.Cache, p *persona.Persona, qa Asker, search Searcher) *Pipeline {
	if p == nil {
		p = persona.New(nil)
	}
	return &Pipeline{
		Cache:            c,
		Persona:          p,
		QA:               qa,
		Search:           search,
		IdentityTriggers: DefaultIdentityTriggers,
		GreetingWords:    DefaultGreetingWords,
		FarewellWords:    DefaultFarewellWords,
	}
}

// Resolve returns the response text for raw. It always returns a non-empty
// string.
func (p *Pipeline) Resolve(ctx context.Context, raw string) string {
	return p.ResolveDetailed(ctx, raw).Text
}

// ResolveDetailed is Resolve plus the tier that answered.
func (p *Pipeline) ResolveDetailed(ctx context.Context, raw string) (res Result) {
	ctx, span := telemetry.StartSpan(ctx, "resolve", "Pipeline.Resolve")
	start := time.Now()
	key := sanitize.Normalize(raw)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "resolve"))
	defer func() {
		span.SetAttributes(telemetry.TierAttr(string(res.Tier)))
		telemetry.SetSpanSuccess(span)
		span.End()
		telemetry.IncResolution(string(res.Tier))
		if telemetry.ResolveDuration != nil {
			telemetry.ResolveDuration.Observe(time.Since(start).Seconds())
		}
		logger.Debug("prompt resolved", slog.String("prompt", key), slog.String("tier", string(res.Tier)), slog.Duration("took", time.Since(start)))
	}()

	if key == "" {
		return p.finish(FallbackText, "sad", TierFallback)
	}

	if containsAny(key, p.IdentityTriggers) {
		return p.finish(p.creatorAnswer(), persona.Neutral, TierIdentity)
	}

	if p.Cache != nil {
		snap := p.Cache.Snapshot(ctx)
		if resp, ok := snap.Exact(key); ok {
			return p.finish(resp, persona.Neutral, TierExact)
		}
		if k, resp, ok := snap.Contained(key); ok {
			logger.Debug("containment cache hit", slog.String("key", k))
			return p.finish(resp, persona.Neutral, TierContained)
		}
	}

	traits := p.Persona.Traits()
	words := wordString(key)
	if matchesWord(words, p.GreetingWords) {
		return p.finish(traits.Behavior.GetOr("greeting", DefaultGreeting), "happy", TierKeyword)
	}
	if matchesWord(words, p.FarewellWords) {
		return p.finish(traits.Behavior.GetOr("farewell", DefaultFarewell), "happy", TierKeyword)
	}

	if p.QA != nil {
		ans, err := p.QA.Ask(ctx, raw)
		if err != nil {
			logger.Warn("qa lookup failed", slog.Any("err", err), slog.String("reason", remote.Reason(err)))
		} else if clean := strings.TrimSpace(sanitize.Clean(ans)); clean != "" {
			p.store(ctx, logger, key, clean)
			return p.finish(clean, persona.Neutral, TierQA)
		}
	}

	if p.Search != nil {
		ans, err := p.Search.Search(ctx, raw)
		if err != nil {
			logger.Info("web search gave no result", slog.Any("err", err), slog.String("reason", remote.Reason(err)))
		} else if clean := strings.TrimSpace(sanitize.Clean(ans)); clean != "" {
			p.store(ctx, logger, key, clean)
			return p.finish(clean, persona.Neutral, TierSearch)
		}
	}

	return p.finish(FallbackText, "sad", TierFallback)
}

func (p *Pipeline) creatorAnswer() string {
	creator := p.Persona.Traits().Identity.GetOr("creator", DefaultCreator)
	return fmt.Sprintf("I was created by %s.", creator)
}

// finish styles text. If styling leaves nothing the fallback phrase is used
// so callers never see an empty response.
func (p *Pipeline) finish(text, emotion string, tier Tier) Result {
	out := p.Persona.Apply(text, emotion)
	if out == "" {
		return Result{Text: p.Persona.Apply(FallbackText, "sad"), Tier: TierFallback}
	}
	return Result{Text: out, Tier: tier}
}

func (p *Pipeline) store(ctx context.Context, logger *slog.Logger, key, answer string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Put(ctx, key, answer); err != nil {
		logger.Error("cache write failed", slog.Any("err", err), slog.String("prompt", key))
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// wordString reduces s to its letter/digit words separated by single spaces
// and padded at both ends, so " word " tests match whole words only.
func wordString(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(fields, " ") + " "
}

func matchesWord(words string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(words, wordString(kw)) {
			return true
		}
	}
	return false
}
