package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command against a temp config whose cache file
// holds cacheJSON.
func runCLI(t *testing.T, cacheJSON string, args ...string) string {
	t.Helper()
	for _, k := range []string{"API_KEY", "DEEPSEEK_API_KEY", "CACHE_BACKEND", "CACHE_PATH", "PERSONA_PATH", "SEARCH_URL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "response_cache.json")
	if err := os.WriteFile(cachePath, []byte(cacheJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"cache_path": "` + filepath.ToSlash(cachePath) + `", "persona_path": "` + filepath.ToSlash(filepath.Join(dir, "none.toml")) + `"}`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("execute %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestAskExactCache(t *testing.T) {
	out := runCLI(t, `{"what is go": "A programming language"}`, "ask", "--tier", "What", "is", "Go?")
	if !strings.Contains(out, "[exact_cache]") || !strings.Contains(out, "A programming language") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAskKeyword(t *testing.T) {
	out := runCLI(t, `{}`, "ask", "-t", "hello there")
	if !strings.Contains(out, "[keyword]") || !strings.Contains(out, "Konnichiwa") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCacheList(t *testing.T) {
	out := runCLI(t, `{"b": "two", "a": "one", "c": "three"}`, "cache", "list", "-n", "2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %q", out)
	}
	if !strings.Contains(lines[0], `"b"`) || !strings.Contains(lines[1], `"a"`) {
		t.Fatalf("store order not kept: %q", out)
	}
	if !strings.Contains(lines[2], "1 more") {
		t.Fatalf("missing truncation line: %q", lines[2])
	}
}

func TestCacheListEmpty(t *testing.T) {
	out := runCLI(t, ``, "cache", "list")
	if strings.TrimSpace(out) != "cache is empty" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCacheLookup(t *testing.T) {
	cache := `{"weather": "Sunny", "what is go": "A language"}`
	tests := []struct {
		prompt string
		want   string
	}{
		{"What is Go?", "exact"},
		{"how is the weather today", "contained"},
		{"something else", "miss"},
	}
	for _, tc := range tests {
		t.Run(tc.prompt, func(t *testing.T) {
			out := runCLI(t, cache, "cache", "lookup", tc.prompt)
			if !strings.HasPrefix(out, tc.want) {
				t.Fatalf("lookup %q = %q, want prefix %q", tc.prompt, out, tc.want)
			}
		})
	}
}
