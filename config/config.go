// Package config loads the JSON config file, overlays environment variables and
// provides a typed Config used across the service.
// Defaults let the binary run locally with only a prompt box; features whose
// credentials are missing are disabled rather than failing startup.
// For required chat credentials, use ValidateChatReady.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.json"

// Cache backends.
const (
	CacheFile     = "file"
	CachePostgres = "postgres"
)

type Config struct {
	// Source is the config file that was read, empty when none was found.
	Source string

	// Remote QA and search
	APIKey    string
	QAURL     string
	QAModel   string
	SearchURL string

	// Chat
	ChatOAuthToken string
	ChatChannel    string
	ChatNick       string
	IRCAddr        string
	IRCTLS         bool
	IdleThreshold  time.Duration
	Tick           time.Duration
	TriggersPath   string

	// Cache
	CacheBackend string
	CachePath    string
	DBDsn        string

	// Persona
	PersonaPath  string
	PersonaWatch bool

	// HTTP
	HTTPAddr       string
	StaticDir      string
	IndexPath      string
	ResponderLabel string

	// Speech
	TTSAPIKey          string
	TTSCredentialsFile string
	TTSVoice           string
	TTSLanguage        string

	// Admin surface
	AdminUsername     string
	AdminPassword     string
	AdminToken        string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSPermissive    bool
	CORSOrigins       []string
}

var defaults = map[string]any{
	"qa_url":              "https://api.deepseek.com/chat/completions",
	"qa_model":            "deepseek-chat",
	"search_url":          "https://api.duckduckgo.com/",
	"irc_addr":            "irc.chat.twitch.tv:6667",
	"irc_tls":             false,
	"idle_threshold":      "25s",
	"tick":                "1s",
	"cache_backend":       CacheFile,
	"cache_path":          "response_cache.json",
	"persona_path":        "persona.toml",
	"persona_watch":       false,
	"http_addr":           ":5000",
	"static_dir":          "static",
	"index_path":          "templates/index.html",
	"responder_label":     "RenAI",
	"tts_language":        "en-US",
	"rate_limit_enabled":  true,
	"rate_limit_requests": 10,
	"rate_limit_window":   "1m",
	"cors_permissive":     true,
}

// keys lists every setting; each one is overridable by its upper-case env var.
var keys = []string{
	"api_key", "qa_url", "qa_model", "search_url",
	"chat_oauth_token", "chat_channel", "chat_nick", "irc_addr", "irc_tls",
	"idle_threshold", "tick", "triggers_path",
	"cache_backend", "cache_path", "db_dsn",
	"persona_path", "persona_watch",
	"http_addr", "static_dir", "index_path", "responder_label",
	"tts_api_key", "tts_credentials_file", "tts_voice", "tts_language",
	"admin_username", "admin_password", "admin_token",
	"rate_limit_enabled", "rate_limit_requests", "rate_limit_window",
	"cors_permissive", "cors_allowed_origins",
}

// legacy key names still accepted from older config files and environments.
var legacy = map[string]string{
	"deepseek_api_key":    "api_key",
	"twitch_oauth_token":  "chat_oauth_token",
	"twitch_channel":      "chat_channel",
	"twitch_bot_username": "chat_nick",
	"google_api_key":      "tts_api_key",
}

// Load reads the config file at path (DefaultPath when empty) and overlays
// environment variables. A missing file only logs a warning; a malformed one is
// an error. Missing credentials are not errors: use ValidateChatReady and the
// *Enabled helpers to decide which features run.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		slog.Warn("config file not found, using defaults and environment", slog.String("path", path))
	} else {
		cfg.Source = v.ConfigFileUsed()
	}

	for old, key := range legacy {
		if v.IsSet(key) {
			continue
		}
		if val := os.Getenv(strings.ToUpper(old)); val != "" {
			v.Set(key, val)
		} else if v.InConfig(old) {
			v.Set(key, v.GetString(old))
		}
	}

	cfg.APIKey = strings.TrimSpace(v.GetString("api_key"))
	cfg.QAURL = v.GetString("qa_url")
	cfg.QAModel = v.GetString("qa_model")
	cfg.SearchURL = v.GetString("search_url")

	cfg.ChatOAuthToken = strings.TrimSpace(v.GetString("chat_oauth_token"))
	cfg.ChatChannel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v.GetString("chat_channel"))), "#")
	cfg.ChatNick = strings.ToLower(strings.TrimSpace(v.GetString("chat_nick")))
	cfg.IRCAddr = v.GetString("irc_addr")
	cfg.IRCTLS = v.GetBool("irc_tls")
	cfg.TriggersPath = v.GetString("triggers_path")

	var err error
	if cfg.IdleThreshold, err = duration(v, "idle_threshold"); err != nil {
		return nil, err
	}
	if cfg.Tick, err = duration(v, "tick"); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = duration(v, "rate_limit_window"); err != nil {
		return nil, err
	}

	cfg.CacheBackend = strings.ToLower(v.GetString("cache_backend"))
	switch cfg.CacheBackend {
	case CacheFile, CachePostgres:
	default:
		return nil, fmt.Errorf("invalid cache_backend %q: want %q or %q", cfg.CacheBackend, CacheFile, CachePostgres)
	}
	cfg.CachePath = v.GetString("cache_path")
	cfg.DBDsn = v.GetString("db_dsn")
	if cfg.CacheBackend == CachePostgres && cfg.DBDsn == "" {
		return nil, errors.New("cache_backend postgres requires db_dsn")
	}

	cfg.PersonaPath = v.GetString("persona_path")
	cfg.PersonaWatch = v.GetBool("persona_watch")

	cfg.HTTPAddr = v.GetString("http_addr")
	cfg.StaticDir = v.GetString("static_dir")
	cfg.IndexPath = v.GetString("index_path")
	cfg.ResponderLabel = v.GetString("responder_label")

	cfg.TTSAPIKey = v.GetString("tts_api_key")
	cfg.TTSCredentialsFile = v.GetString("tts_credentials_file")
	cfg.TTSVoice = v.GetString("tts_voice")
	cfg.TTSLanguage = v.GetString("tts_language")

	cfg.AdminUsername = v.GetString("admin_username")
	cfg.AdminPassword = v.GetString("admin_password")
	cfg.AdminToken = v.GetString("admin_token")
	cfg.RateLimitEnabled = v.GetBool("rate_limit_enabled")
	cfg.RateLimitRequests = v.GetInt("rate_limit_requests")
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 10
	}
	cfg.CORSPermissive = v.GetBool("cors_permissive")
	for _, o := range v.GetStringSlice("cors_allowed_origins") {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, part)
			}
		}
	}

	if cfg.APIKey == "" {
		slog.Warn("api_key not set, remote QA tier disabled")
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		// bare numbers are seconds
		var secs float64
		if _, serr := fmt.Sscanf(raw, "%g", &secs); serr != nil || secs <= 0 {
			return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

// ChatEnabled reports whether chat credentials are present. The nick may still
// be empty; it is then discovered from the token.
func (c *Config) ChatEnabled() bool {
	return c.ChatOAuthToken != "" && c.ChatChannel != ""
}

// QAEnabled reports whether the remote QA tier can run.
func (c *Config) QAEnabled() bool { return c.APIKey != "" }

// TTSEnabled reports whether a text-to-speech credential is configured.
func (c *Config) TTSEnabled() bool { return c.TTSAPIKey != "" || c.TTSCredentialsFile != "" }

// ValidateChatReady checks required fields when the chat transport must run.
func (c *Config) ValidateChatReady() error {
	if !c.ChatEnabled() {
		return fmt.Errorf("missing chat config: require chat_oauth_token and chat_channel (or CHAT_OAUTH_TOKEN, CHAT_CHANNEL)")
	}
	return nil
}
