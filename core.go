package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/renai/cache"
	"github.com/onnwee/renai/config"
	"github.com/onnwee/renai/db"
	"github.com/onnwee/renai/persona"
	"github.com/onnwee/renai/remote"
	"github.com/onnwee/renai/resolve"
)

// core is the resolver stack shared by every subcommand.
type core struct {
	db       *sql.DB // nil unless the cache lives in Postgres
	cache    *cache.Cache
	persona  *persona.Persona
	pipeline *resolve.Pipeline
}

func openCore(ctx context.Context, cfg *config.Config) (*core, error) {
	c := &core{}

	var store cache.Store
	switch cfg.CacheBackend {
	case config.CachePostgres:
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		c.db = database
		store = cache.NewPGStore(database)
	default:
		store = cache.NewFileStore(cfg.CachePath)
	}
	c.cache = cache.New(store)
	c.persona = persona.Open(cfg.PersonaPath)

	// A nil *QAClient in the interface would not read as "tier disabled".
	var qa resolve.Asker
	if cfg.QAEnabled() {
		qa = remote.NewQAClient(cfg.APIKey, cfg.QAURL, cfg.QAModel)
	} else {
		slog.Warn("api_key not set; remote QA tier disabled")
	}
	var search resolve.Searcher
	if cfg.SearchURL != "" {
		search = remote.NewSearchClient(cfg.SearchURL)
	}
	c.pipeline = resolve.New(c.cache, c.persona, qa, search)
	return c, nil
}

func (c *core) Close() {
	if c.db == nil {
		return
	}
	if err := c.db.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}
