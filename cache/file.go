package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	cacheFileMode   = 0o644
	cacheDirMode    = 0o755
	tempFilePattern = ".responses-*.json.tmp"
)

// FileStore keeps the cache as a single JSON object. Key order in the file is
// preserved across rewrites. Put is not safe for concurrent use on its own;
// go through Cache.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load reads every entry. A missing or empty file is an empty cache.
func (f *FileStore) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	entries, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("decode cache file: %w", err)
	}
	return entries, nil
}

// Put rewrites the whole file with prompt set to response. An existing key
// keeps its position; a new key is appended.
func (f *FileStore) Put(ctx context.Context, prompt, response string) error {
	entries, err := f.Load(ctx)
	if err != nil {
		// an unreadable file is replaced rather than blocking new answers
		entries = nil
	}
	replaced := false
	for i := range entries {
		if entries[i].Prompt == prompt {
			entries[i].Response = response
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, Entry{Prompt: prompt, Response: response})
	}
	return f.write(entries)
}

func (f *FileStore) write(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), cacheDirMode); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(encodeOrdered(entries)); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tempFile.Chmod(cacheFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	cleanup = false
	return nil
}

// decodeOrdered walks the top-level object token by token so key order
// survives. Duplicate keys keep their first position and last value.
func decodeOrdered(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}
	var out []Entry
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		if i, dup := index[key]; dup {
			out[i].Response = val
			continue
		}
		index[key] = len(out)
		out = append(out, Entry{Prompt: key, Response: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeOrdered(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		k, _ := json.Marshal(e.Prompt)
		v, _ := json.Marshal(e.Response)
		buf.WriteString("\n  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}
