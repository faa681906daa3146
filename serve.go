package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/renai/chat"
	"github.com/onnwee/renai/config"
	"github.com/onnwee/renai/router"
	"github.com/onnwee/renai/server"
	"github.com/onnwee/renai/speech"
	"github.com/onnwee/renai/twitchapi"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web page, API, resolver worker and chat bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			shutdown, err := initTelemetry()
			if err != nil {
				return err
			}
			defer shutdown()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	c, err := openCore(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		return err
	}
	defer c.Close()

	rt := router.New(c.pipeline, router.Options{Responder: cfg.ResponderLabel})
	state := chat.NewState(time.Now())

	var synth speech.Synthesizer = speech.Disabled{}
	if cfg.TTSEnabled() {
		g, err := speech.NewGoogleTTS(ctx, speech.GoogleOptions{
			APIKey:          cfg.TTSAPIKey,
			CredentialsFile: cfg.TTSCredentialsFile,
			StaticDir:       cfg.StaticDir,
			LanguageCode:    cfg.TTSLanguage,
			Voice:           cfg.TTSVoice,
		})
		if err != nil {
			slog.Warn("text-to-speech disabled", slog.Any("err", err))
		} else {
			synth = g
		}
	}

	var client *chat.Client
	if cfg.ChatEnabled() {
		client, err = dialChat(ctx, cfg)
		if err != nil {
			slog.Error("chat connect failed; running web-only", slog.Any("err", err), slog.String("channel", cfg.ChatChannel))
		} else {
			defer func() { _ = client.Close() }()
			rt.AddSink(router.ChatReplySink(client))
		}
	} else {
		slog.Info("chat credentials not set; running web-only")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(ctx) })

	if cfg.PersonaWatch {
		g.Go(func() error {
			if err := c.persona.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("persona watch stopped", slog.Any("err", err))
			}
			return nil
		})
	}

	if client != nil {
		g.Go(func() error {
			err := client.ReceiveLoop(ctx, func(msg router.Message) {
				rt.PublishChat(msg.Author, msg.Text)
				if err := rt.Enqueue(msg); err != nil {
					slog.Warn("chat message dropped", slog.Any("err", err), slog.String("component", "chat"))
				}
			})
			if err != nil {
				slog.Error("chat bridge stopped; web surface keeps running", slog.Any("err", err))
			}
			return nil
		})

		triggers, err := chat.LoadTriggers(cfg.TriggersPath)
		if err != nil {
			slog.Warn("trigger phrases load failed; using defaults", slog.Any("err", err), slog.String("path", cfg.TriggersPath))
			triggers = chat.DefaultTriggers
		}
		sched := chat.NewScheduler(state, chat.SenderFunc(func(text string) {
			client.Send(text)
			rt.PublishChat(client.Nick(), text)
		}), chat.SchedulerOptions{
			Tick:          cfg.Tick,
			IdleThreshold: cfg.IdleThreshold,
			Triggers:      triggers,
		})
		g.Go(func() error { return sched.Run(ctx) })
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		addr := os.Getenv("PPROF_ADDR")
		if addr == "" {
			addr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof listening", slog.String("addr", addr))
			srv := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	handler := server.NewMux(ctx, server.Deps{
		Config:  cfg,
		Router:  rt,
		State:   state,
		Persona: c.persona,
		Cache:   c.cache,
		Speech:  synth,
		DB:      c.db,
	})
	g.Go(func() error { return server.Start(ctx, cfg.HTTPAddr, handler) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown with error", slog.Any("err", err))
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// dialChat connects to the configured channel. When no nick is configured it
// is looked up from the token.
func dialChat(ctx context.Context, cfg *config.Config) (*chat.Client, error) {
	if err := cfg.ValidateChatReady(); err != nil {
		return nil, err
	}
	nick := cfg.ChatNick
	if nick == "" {
		vctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		info, err := twitchapi.ValidateToken(vctx, cfg.ChatOAuthToken)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("chat nick lookup: %w", err)
		}
		nick = info.Login
		slog.Info("chat nick discovered from token", slog.String("nick", nick))
	}
	addr := cfg.IRCAddr
	if cfg.IRCTLS && addr == chat.DefaultAddr {
		addr = chat.DefaultTLSAddr
	}
	return chat.Dial(ctx, chat.Options{
		Addr:    addr,
		TLS:     cfg.IRCTLS,
		Nick:    nick,
		Token:   cfg.ChatOAuthToken,
		Channel: cfg.ChatChannel,
	})
}
