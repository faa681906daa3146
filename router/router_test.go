package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type upperResolver struct{}

func (upperResolver) Resolve(_ context.Context, p string) string { return strings.ToUpper(p) }

// gateResolver blocks each Resolve until release receives.
type gateResolver struct {
	entered chan string
	release chan struct{}
}

func newGateResolver() *gateResolver {
	return &gateResolver{entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gateResolver) Resolve(ctx context.Context, p string) string {
	g.entered <- p
	<-g.release
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "done:" + p
}

type recordingSender struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSender) Send(text string) {
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
}

func (s *recordingSender) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func startRouter(t *testing.T, r *Router) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancelCtx()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Error("worker did not exit")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func TestQueueFIFOAndBlockingPop(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Push(2)
	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.TryPop()
	assert.False(t, ok)

	got := make(chan int, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(3)
	select {
	case v := <-got:
		assert.Equal(t, 3, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentConsumersClaimOnce(t *testing.T) {
	q := NewQueue[int]()
	const n = 2000
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	var pw sync.WaitGroup
	for p := 0; p < 4; p++ {
		pw.Add(1)
		go func(base int) {
			defer pw.Done()
			for i := 0; i < n/4; i++ {
				q.Push(base + i)
			}
		}(p * (n / 4))
	}
	pw.Wait()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
	for v, c := range seen {
		assert.Equal(t, 1, c, "item %d claimed %d times", v, c)
	}
}

func TestLogCursorsAreIndependent(t *testing.T) {
	l := NewLog[string](10)
	for _, s := range []string{"a", "b", "c"} {
		s := s
		l.Append(func(uint64) string { return s })
	}

	first, cur1 := l.After(0)
	assert.Equal(t, []string{"a", "b", "c"}, first)
	assert.Equal(t, uint64(3), cur1)

	// a second reader sees the same entries
	second, _ := l.After(0)
	assert.Equal(t, first, second)

	none, same := l.After(cur1)
	assert.Empty(t, none)
	assert.Equal(t, cur1, same)

	l.Append(func(uint64) string { return "d" })
	more, cur2 := l.After(cur1)
	assert.Equal(t, []string{"d"}, more)
	assert.Equal(t, uint64(4), cur2)
	assert.Equal(t, 4, l.Len())
}

func TestLogRetention(t *testing.T) {
	l := NewLog[uint64](3)
	for i := 0; i < 5; i++ {
		l.Append(func(seq uint64) uint64 { return seq })
	}
	assert.Equal(t, 3, l.Len())
	all, cur := l.After(0)
	assert.Equal(t, []uint64{3, 4, 5}, all)
	assert.Equal(t, uint64(5), cur)
	tail, _ := l.After(3)
	assert.Equal(t, []uint64{4, 5}, tail)
	assert.Equal(t, []uint64{5}, l.Since(func(v uint64) bool { return v > 4 }))
}

func TestLogWait(t *testing.T) {
	l := NewLog[string](0)
	got := make(chan []string, 1)
	go func() {
		out, _, err := l.Wait(context.Background(), 0)
		if err == nil {
			got <- out
		}
	}()
	time.Sleep(20 * time.Millisecond)
	l.Append(func(uint64) string { return "x" })
	select {
	case out := <-got:
		assert.Equal(t, []string{"x"}, out)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, cur, err := l.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), cur)
}

func TestLogCursorAheadReplaysRetained(t *testing.T) {
	l := NewLog[string](10)
	for _, s := range []string{"a", "b", "c"} {
		s := s
		l.Append(func(uint64) string { return s })
	}

	out, cur := l.After(40)
	assert.Equal(t, []string{"a", "b", "c"}, out)
	assert.Equal(t, uint64(3), cur)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, cur, err := l.Wait(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
	assert.Equal(t, uint64(3), cur)

	// an empty log wakes a stale cursor on the first append
	empty := NewLog[string](10)
	got := make(chan []string, 1)
	go func() {
		out, _, err := empty.Wait(context.Background(), 40)
		if err == nil {
			got <- out
		}
	}()
	time.Sleep(20 * time.Millisecond)
	empty.Append(func(uint64) string { return "x" })
	select {
	case out := <-got:
		assert.Equal(t, []string{"x"}, out)
	case <-time.After(time.Second):
		t.Fatal("stale cursor never caught up")
	}
}

func TestRouterSubmitResolvesInOrder(t *testing.T) {
	r := New(upperResolver{}, Options{})
	startRouter(t, r)

	var tickets []<-chan Response
	for _, p := range []string{"one", "two", "three"} {
		tk, err := r.Submit(Message{Author: "web", Text: p, Source: SourceWeb})
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	var got []Response
	for _, tk := range tickets {
		select {
		case resp := <-tk:
			got = append(got, resp)
		case <-time.After(2 * time.Second):
			t.Fatal("no response")
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, "ONE", got[0].Text)
	assert.Equal(t, "THREE", got[2].Text)
	assert.Equal(t, DefaultResponder, got[0].Responder)
	assert.Less(t, got[0].Seq, got[1].Seq)
	assert.Less(t, got[1].Seq, got[2].Seq)
	assert.LessOrEqual(t, got[0].Timestamp, got[2].Timestamp)
}

func TestRouterPollersDoNotConsume(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	r := New(upperResolver{}, Options{Now: clock})
	startRouter(t, r)

	for _, p := range []string{"a", "b"} {
		tk, err := r.Submit(Message{Text: p})
		require.NoError(t, err)
		<-tk
	}
	all := r.ResponsesAfter(0)
	require.Len(t, all, 2)
	// two pollers with the same watermark see the same items
	assert.Equal(t, all, r.ResponsesAfter(0))
	newer := r.ResponsesAfter(all[0].Timestamp)
	require.Len(t, newer, 1)
	assert.Equal(t, "B", newer[0].Text)
}

func TestRouterChatReplySink(t *testing.T) {
	r := New(upperResolver{}, Options{Responder: "Ren"})
	sender := &recordingSender{}
	r.AddSink(ChatReplySink(sender))
	startRouter(t, r)

	require.NoError(t, r.Enqueue(Message{Author: "viewer", Text: "hi there", Source: SourceChat}))
	tk, err := r.Submit(Message{Author: "web", Text: "from web", Source: SourceWeb})
	require.NoError(t, err)
	<-tk

	assert.Equal(t, []string{"@viewer HI THERE"}, sender.Lines())
	resp, _ := r.Responses().After(0)
	require.Len(t, resp, 2)
	assert.Equal(t, "viewer", resp[0].OriginalAuthor)
	assert.Equal(t, SourceChat, resp[0].OriginalSource)
	assert.Equal(t, "Ren", resp[0].Responder)
}

func TestRouterProducersNeverBlockOnResolver(t *testing.T) {
	g := newGateResolver()
	r := New(g, Options{})
	startRouter(t, r)

	require.NoError(t, r.Enqueue(Message{Text: "slow"}))
	<-g.entered

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = r.Enqueue(Message{Text: "more"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked behind an in-flight resolution")
	}
	assert.Equal(t, 100, r.QueueLen())

	r.Stop()
	close(g.release)
}

func TestRouterStopFinishesInFlightAndReleasesWaiters(t *testing.T) {
	g := newGateResolver()
	r := New(g, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(exited)
	}()
	defer cancel()

	first, err := r.Submit(Message{Text: "first"})
	require.NoError(t, err)
	second, err := r.Submit(Message{Text: "second"})
	require.NoError(t, err)
	<-g.entered

	cancel()
	r.Stop()
	close(g.release)

	select {
	case resp := <-first:
		assert.Equal(t, "done:first", resp.Text)
	case <-time.After(time.Second):
		t.Fatal("in-flight item was not completed")
	}
	select {
	case _, ok := <-second:
		assert.False(t, ok, "queued item should be abandoned, not resolved")
	case <-time.After(time.Second):
		t.Fatal("waiter on queued item was not released")
	}
	<-exited

	_, err = r.Submit(Message{Text: "late"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, r.Enqueue(Message{Text: "late"}), ErrStopped)
}

func TestRouterCancelledRunRejectsLateSubmissions(t *testing.T) {
	r := New(upperResolver{}, Options{})
	stop := startRouter(t, r)
	stop()

	assert.True(t, r.Stopped())
	_, err := r.Submit(Message{Text: "late"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Zero(t, r.QueueLen())
}

func TestRouterSubmitRacingShutdownNeverHangs(t *testing.T) {
	r := New(upperResolver{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(exited)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tk, err := r.Submit(Message{Text: "x"})
				if err != nil {
					assert.ErrorIs(t, err, ErrStopped)
					return
				}
				select {
				case <-tk:
				case <-time.After(2 * time.Second):
					t.Error("accepted submission was neither resolved nor released")
					return
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	cancel()
	wg.Wait()
	<-exited
}

func TestPublishChat(t *testing.T) {
	r := New(upperResolver{}, Options{})
	ev := r.PublishChat("viewer", "hello")
	assert.Equal(t, uint64(1), ev.Seq)
	evs, cur := r.Events().After(0)
	require.Len(t, evs, 1)
	assert.Equal(t, "viewer", evs[0].User)
	assert.Equal(t, "hello", evs[0].Message)
	assert.Equal(t, uint64(1), cur)
}

func TestSourceText(t *testing.T) {
	b, err := SourceChat.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "chat", string(b))
	var s Source
	require.NoError(t, s.UnmarshalText([]byte("CHAT")))
	assert.Equal(t, SourceChat, s)
	assert.Error(t, s.UnmarshalText([]byte("carrier pigeon")))
}
