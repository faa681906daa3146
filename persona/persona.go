// Package persona styles response text with a configured character.
//
// A persona is three sections of lower-cased key → string traits: Identity,
// Behavior and Phrases. Phrases values are templates with a {text}
// placeholder keyed by emotion. The active trait set is an immutable snapshot
// replaced wholesale on reload, so readers never observe a partial update.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/onnwee/renai/sanitize"
)

const (
	// Placeholder is replaced by the response text in a phrase template.
	Placeholder = "{text}"
	// Neutral is the default emotion.
	Neutral = "neutral"
)

// Section is one named group of traits. Keys are lower-cased.
type Section map[string]string

// Get returns the trait for key, matched case-insensitively.
func (s Section) Get(key string) (string, bool) {
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

// GetOr returns the trait for key or def when unset or blank.
func (s Section) GetOr(key, def string) string {
	if v, ok := s.Get(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Traits is an immutable persona snapshot.
type Traits struct {
	Identity Section `json:"identity"`
	Behavior Section `json:"behavior"`
	Phrases  Section `json:"phrases"`
}

// Empty returns a trait set with no entries.
func Empty() *Traits {
	return &Traits{Identity: Section{}, Behavior: Section{}, Phrases: Section{}}
}

// Parse decodes a persona document. format is "json", "toml" or "ini".
func Parse(data []byte, format string) (*Traits, error) {
	raw := map[string]any{}
	switch format {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode persona json: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode persona toml: %w", err)
		}
	case "ini":
		sections, err := parseINI(data)
		if err != nil {
			return nil, fmt.Errorf("decode persona ini: %w", err)
		}
		for name, kv := range sections {
			raw[name] = kv
		}
	default:
		return nil, fmt.Errorf("unsupported persona format %q", format)
	}

	t := Empty()
	for name, v := range raw {
		var dst Section
		switch strings.ToLower(name) {
		case "identity":
			dst = t.Identity
		case "behavior", "behaviour":
			dst = t.Behavior
		case "phrases":
			dst = t.Phrases
		default:
			slog.Debug("persona: ignoring unknown section", slog.String("section", name))
			continue
		}
		section, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("persona section %q is not a table", name)
		}
		for k, val := range section {
			if s, ok := val.(string); ok {
				dst[strings.ToLower(k)] = s
			} else {
				dst[strings.ToLower(k)] = fmt.Sprint(val)
			}
		}
	}
	return t, nil
}

// LoadFile reads a persona from path; the extension selects the format.
// ".json" is JSON and ".ini"/".cfg" are plain key=value sections. Anything
// else is TOML, falling back to key=value sections when the file is not
// valid TOML (unquoted values such as greeting=Konnichiwa!).
func LoadFile(path string) (*Traits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Parse(data, "json")
	case ".ini", ".cfg":
		return Parse(data, "ini")
	}
	t, err := Parse(data, "toml")
	if err == nil {
		return t, nil
	}
	if t, iniErr := Parse(data, "ini"); iniErr == nil {
		slog.Debug("persona: not TOML, read as key=value sections", slog.String("path", path))
		return t, nil
	}
	return nil, err
}

// parseINI reads "[section]" headers followed by "key = value" lines. Lines
// starting with '#' or ';' are comments; values may be wrapped in matching
// quotes.
func parseINI(data []byte) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	var current map[string]any
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		if line[0] == '[' {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: unterminated section header", n+1)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if out[name] == nil {
				out[name] = map[string]any{}
			}
			current = out[name]
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			key, val, ok = strings.Cut(line, ":")
		}
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("line %d: expected key = value", n+1)
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: key outside a section", n+1)
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		current[strings.TrimSpace(key)] = val
	}
	if len(out) == 0 {
		return nil, errors.New("no sections")
	}
	return out, nil
}

// Persona holds the active trait snapshot and styles text with it.
type Persona struct {
	path    string
	current atomic.Pointer[Traits]
}

// New returns a Persona serving t. A nil t is the empty persona.
func New(t *Traits) *Persona {
	p := &Persona{}
	p.Swap(t)
	return p
}

// Open loads path. Failures are logged and leave an empty trait set; the
// path is kept so a later Reload can pick up a fixed file.
func Open(path string) *Persona {
	p := New(nil)
	p.path = path
	if path == "" {
		slog.Info("persona: no source configured; responses are unstyled")
		return p
	}
	t, err := LoadFile(path)
	if err != nil {
		slog.Warn("persona load failed; using empty trait set", slog.String("path", path), slog.Any("err", err))
		return p
	}
	p.Swap(t)
	slog.Info("persona loaded", slog.String("path", path), slog.Int("phrases", len(t.Phrases)))
	return p
}

// Path returns the persona source file, if any.
func (p *Persona) Path() string { return p.path }

// Traits returns the current snapshot. Callers must not mutate it.
func (p *Persona) Traits() *Traits { return p.current.Load() }

// Swap installs t as the active snapshot.
func (p *Persona) Swap(t *Traits) {
	if t == nil {
		t = Empty()
	}
	p.current.Store(t)
}

// ErrNoSource is returned by Reload when no persona file is configured.
var ErrNoSource = errors.New("persona: no source file configured")

// Reload re-reads the source file. On error the previous snapshot stays.
func (p *Persona) Reload() error {
	if p.path == "" {
		return ErrNoSource
	}
	t, err := LoadFile(p.path)
	if err != nil {
		return err
	}
	p.Swap(t)
	slog.Info("persona reloaded", slog.String("path", p.path))
	return nil
}

// Apply styles text with the phrase template for emotion. Without a template
// the Behavior "suffix" trait is appended when set. The result is always
// sanitized; if styling leaves nothing, the sanitized input is returned.
func (p *Persona) Apply(text, emotion string) string {
	t := p.Traits()
	if emotion == "" {
		emotion = Neutral
	}
	out := text
	if tmpl, ok := t.Phrases.Get(emotion); ok && strings.TrimSpace(tmpl) != "" {
		if strings.Contains(tmpl, Placeholder) {
			out = strings.ReplaceAll(tmpl, Placeholder, text)
		} else {
			out = tmpl + " " + text
		}
	} else if suffix, ok := t.Behavior.Get("suffix"); ok && suffix != "" {
		out = text + " " + suffix
	}
	out = strings.TrimSpace(sanitize.Clean(out))
	if out == "" {
		out = strings.TrimSpace(sanitize.Clean(text))
	}
	return out
}
