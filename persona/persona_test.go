package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/renai/sanitize"
)

const sampleTOML = `
[Identity]
Name = "Ren"
Creator = "onnwee"

[Behavior]
Greeting = "Ohayo, friend!"

[Phrases]
neutral = "{text}"
happy = "Yay~ {text} (^_^)"
sad = "{text}... sorry"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTOMLLowercasesKeys(t *testing.T) {
	tr, err := Parse([]byte(sampleTOML), "toml")
	require.NoError(t, err)

	v, ok := tr.Identity.Get("CREATOR")
	assert.True(t, ok)
	assert.Equal(t, "onnwee", v)
	assert.Equal(t, "Ohayo, friend!", tr.Behavior.GetOr("greeting", "Konnichiwa!"))
	assert.Equal(t, "Sayonara!", tr.Behavior.GetOr("farewell", "Sayonara!"))
	assert.Len(t, tr.Phrases, 3)
}

func TestParseJSON(t *testing.T) {
	tr, err := Parse([]byte(`{"Identity":{"Name":"Ren"},"Phrases":{"happy":"{text}!"},"Extra":{"x":"y"}}`), "json")
	require.NoError(t, err)
	assert.Equal(t, "Ren", tr.Identity.GetOr("name", ""))
	assert.Equal(t, "{text}!", tr.Phrases.GetOr("happy", ""))
	assert.Empty(t, tr.Behavior)
}

func TestParseRejectsNonTableSection(t *testing.T) {
	_, err := Parse([]byte(`{"Phrases":"nope"}`), "json")
	assert.Error(t, err)
}

const sampleINI = `
; key=value sections, values unquoted
[Identity]
name = Ren
creator=onnwee

[Behavior]
greeting=Konnichiwa!
farewell = "See you, chat"

[Phrases]
happy = Yay~ {text} (^_^)
`

func TestLoadFileAcceptsKeyValueSections(t *testing.T) {
	for _, name := range []string{"persona.toml", "persona.ini"} {
		t.Run(name, func(t *testing.T) {
			tr, err := LoadFile(writeFile(t, name, sampleINI))
			require.NoError(t, err)
			assert.Equal(t, "onnwee", tr.Identity.GetOr("creator", ""))
			assert.Equal(t, "Konnichiwa!", tr.Behavior.GetOr("greeting", ""))
			assert.Equal(t, "See you, chat", tr.Behavior.GetOr("farewell", ""))
			assert.Equal(t, "Yay~ {text} (^_^)", tr.Phrases.GetOr("happy", ""))
		})
	}
}

func TestParseINIRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("greeting=hi\n"), "ini")
	assert.Error(t, err, "key outside a section")
	_, err = Parse([]byte("[Behavior\ngreeting=hi\n"), "ini")
	assert.Error(t, err)
	_, err = LoadFile(writeFile(t, "persona.toml", "[Behavior]\njust words\n"))
	assert.Error(t, err)
}

func TestOpenMissingFileGivesEmptyTraits(t *testing.T) {
	p := Open(filepath.Join(t.TempDir(), "absent.toml"))
	require.NotNil(t, p.Traits())
	assert.Empty(t, p.Traits().Phrases)
	assert.Equal(t, "plain text", p.Apply("plain text", ""))
}

func TestApply(t *testing.T) {
	tr, err := Parse([]byte(sampleTOML), "toml")
	require.NoError(t, err)
	p := New(tr)

	tests := []struct {
		name    string
		text    string
		emotion string
		want    string
	}{
		{"neutral passthrough template", "four", "", "four"},
		{"template substitution", "hi", "happy", "Yay hi ^_^"},
		{"template strips forbidden from input", "a-b #c", "sad", "ab c... sorry"},
		{"unknown emotion passthrough", "hello", "angry", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Apply(tt.text, tt.emotion))
		})
	}
}

func TestApplyTemplateWithoutPlaceholderPrefixes(t *testing.T) {
	p := New(&Traits{Phrases: Section{"happy": "Nyan!"}})
	assert.Equal(t, "Nyan! cat", p.Apply("cat", "happy"))
}

func TestApplySuffixWhenNoTemplate(t *testing.T) {
	p := New(&Traits{Behavior: Section{"suffix": "desu"}, Phrases: Section{}})
	assert.Equal(t, "four desu", p.Apply("four", "neutral"))
}

func TestApplyNeutralNeverLeavesForbidden(t *testing.T) {
	tr, err := Parse([]byte(sampleTOML), "toml")
	require.NoError(t, err)
	tr.Phrases["neutral"] = "~({text})#"
	p := New(tr)

	inputs := []string{"a(b)c", "#tag", "`code`", "back\\slash", "~~--~~x", "plain"}
	for _, in := range inputs {
		out := p.Apply(in, "neutral")
		assert.False(t, sanitize.ContainsForbidden(out), "output %q carries forbidden chars", out)
		assert.Equal(t, out, sanitize.Clean(out))
	}
}

func TestApplyNonNeutralNotIdempotent(t *testing.T) {
	tr, err := Parse([]byte(sampleTOML), "toml")
	require.NoError(t, err)
	p := New(tr)
	once := p.Apply("hi", "happy")
	twice := p.Apply(once, "happy")
	assert.NotEqual(t, once, twice)
}

func TestReloadSwapsAndKeepsOldOnError(t *testing.T) {
	path := writeFile(t, "persona.toml", sampleTOML)
	p := Open(path)
	before := p.Traits()
	assert.Equal(t, "Ren", before.Identity.GetOr("name", ""))

	require.NoError(t, os.WriteFile(path, []byte("[Identity]\nname = \"Kai\"\n"), 0o644))
	require.NoError(t, p.Reload())
	assert.Equal(t, "Kai", p.Traits().Identity.GetOr("name", ""))
	// snapshots are not mutated in place
	assert.Equal(t, "Ren", before.Identity.GetOr("name", ""))

	require.NoError(t, os.WriteFile(path, []byte("[Identity\nbroken"), 0o644))
	assert.Error(t, p.Reload())
	assert.Equal(t, "Kai", p.Traits().Identity.GetOr("name", ""))
}

func TestReloadWithoutSource(t *testing.T) {
	assert.ErrorIs(t, New(nil).Reload(), ErrNoSource)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "persona.toml", sampleTOML)
	p := Open(path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[Identity]\nname = \"Watched\"\n"), 0o644))
	assert.Eventually(t, func() bool {
		return p.Traits().Identity.GetOr("name", "") == "Watched"
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
