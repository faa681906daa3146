package router

import (
	"context"
	"sync"
)

// DefaultRetention is the number of entries a Log keeps when none is given.
const DefaultRetention = 500

// Log is an append-only sequence read through cursors. Readers never remove
// entries, so any number of consumers can follow it independently. Entries
// older than the retention cap are dropped; a cursor that points before the
// oldest retained entry resumes at the oldest one. A cursor beyond the newest
// entry was issued by an earlier process and replays everything retained.
type Log[T any] struct {
	mu      sync.Mutex
	entries []T
	first   uint64 // sequence number of entries[0]
	next    uint64 // sequence number the next Append receives
	max     int
	changed chan struct{}
}

// NewLog returns an empty log retaining at most max entries.
func NewLog[T any](max int) *Log[T] {
	if max <= 0 {
		max = DefaultRetention
	}
	return &Log[T]{first: 1, next: 1, max: max, changed: make(chan struct{})}
}

// Append adds the value built for the next sequence number and returns it.
func (l *Log[T]) Append(build func(seq uint64) T) T {
	l.mu.Lock()
	v := build(l.next)
	l.entries = append(l.entries, v)
	l.next++
	if over := len(l.entries) - l.max; over > 0 {
		clear(l.entries[:over])
		l.entries = l.entries[over:]
		l.first += uint64(over)
	}
	ch := l.changed
	l.changed = make(chan struct{})
	l.mu.Unlock()
	close(ch)
	return v
}

// After returns entries with a sequence number greater than cursor and the
// cursor to pass next time.
func (l *Log[T]) After(cursor uint64) ([]T, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.afterLocked(cursor)
}

func (l *Log[T]) afterLocked(cursor uint64) ([]T, uint64) {
	last := l.next - 1
	if cursor == last {
		return nil, last
	}
	start := 0
	if cursor < last && cursor >= l.first {
		start = int(cursor - l.first + 1)
	}
	out := make([]T, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out, last
}

// Since returns every retained entry for which keep reports true, in order.
func (l *Log[T]) Since(keep func(T) bool) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []T
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Wait blocks until entries after cursor exist or ctx is done.
func (l *Log[T]) Wait(ctx context.Context, cursor uint64) ([]T, uint64, error) {
	for {
		l.mu.Lock()
		out, next := l.afterLocked(cursor)
		ch := l.changed
		l.mu.Unlock()
		if len(out) > 0 {
			return out, next, nil
		}
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-ch:
		}
	}
}

// Cursor returns the sequence number of the newest entry, 0 if none.
func (l *Log[T]) Cursor() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next - 1
}

// Len reports the number of retained entries.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
