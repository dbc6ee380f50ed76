package posts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockSource struct {
	fetchAll    func(ctx context.Context, limit int) (*PostsData, error)
	fetchBySlug func(ctx context.Context, slug string) (*Post, error)
}

func (m *mockSource) FetchAll(ctx context.Context, limit int) (*PostsData, error) {
	if m.fetchAll != nil {
		return m.fetchAll(ctx, limit)
	}
	return &PostsData{}, nil
}

func (m *mockSource) FetchBySlug(ctx context.Context, slug string) (*Post, error) {
	if m.fetchBySlug != nil {
		return m.fetchBySlug(ctx, slug)
	}
	return nil, ErrNotFound
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testData(slugs ...string) *PostsData {
	data := &PostsData{Pagination: Pagination{Total: len(slugs), Page: 1, Limit: DefaultPageLimit, LastPage: 1}}
	for i, s := range slugs {
		data.Posts = append(data.Posts, Post{ID: i + 1, Slug: s, Title: "Post " + s})
	}
	return data
}

func TestCache_InitialState(t *testing.T) {
	c := NewCache(&mockSource{}, WithLogger(quietLogger()))
	s := c.State()
	if s.IsLoaded || s.IsLoading || s.Err != "" {
		t.Errorf("got %+v", s)
	}
	if len(s.Data.Posts) != 0 || s.Data.Pagination.Page != 1 || s.Data.Pagination.Limit != 10 || s.Data.Pagination.LastPage != 1 {
		t.Errorf("data %+v", s.Data)
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase %q", s.Phase())
	}
}

func TestCache_Load(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotLimit int
		src := &mockSource{fetchAll: func(_ context.Context, limit int) (*PostsData, error) {
			gotLimit = limit
			return testData("a", "b"), nil
		}}
		c := NewCache(src, WithLogger(quietLogger()), WithPageLimit(500))
		s := c.Load(context.Background())
		if !s.IsLoaded || s.IsLoading || s.Err != "" {
			t.Errorf("got %+v", s)
		}
		if len(s.Data.Posts) != 2 || s.Data.Posts[0].Slug != "a" {
			t.Errorf("posts %+v", s.Data.Posts)
		}
		if gotLimit != 500 {
			t.Errorf("limit %d", gotLimit)
		}
		if s.Phase() != PhaseLoaded {
			t.Errorf("phase %q", s.Phase())
		}
	})

	t.Run("failure leaves data and isLoaded untouched", func(t *testing.T) {
		src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
			return nil, &StatusError{Code: 500}
		}}
		c := NewCache(src, WithLogger(quietLogger()))
		s := c.Load(context.Background())
		if s.Err != "API error: 500" || s.IsLoading || s.IsLoaded {
			t.Errorf("got %+v", s)
		}
		if len(s.Data.Posts) != 0 {
			t.Errorf("posts %+v", s.Data.Posts)
		}
		if s.Phase() != PhaseFailed {
			t.Errorf("phase %q", s.Phase())
		}
	})

	t.Run("nil data is a failure", func(t *testing.T) {
		src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) { return nil, nil }}
		c := NewCache(src, WithLogger(quietLogger()))
		s := c.Load(context.Background())
		if s.Err == "" || s.IsLoaded {
			t.Errorf("got %+v", s)
		}
	})
}

func TestCache_Load_IdempotentAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		calls.Add(1)
		return testData("a"), nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))
	c.Load(context.Background())
	s := c.Load(context.Background())
	c.Load(context.Background())
	if n := calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	if !s.IsLoaded {
		t.Errorf("got %+v", s)
	}
}

func TestCache_Load_RetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return testData("a"), nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))

	first := c.Load(context.Background())
	if first.Err != "connection refused" {
		t.Fatalf("first load %+v", first)
	}
	second := c.Load(context.Background())
	if n := calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
	if !second.IsLoaded || second.Err != "" {
		t.Errorf("second load %+v", second)
	}
}

func TestState_Phase(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Phase
	}{
		{"idle", State{}, PhaseIdle},
		{"loading", State{IsLoading: true}, PhaseLoading},
		{"retrying after failure", State{IsLoading: true, Err: "boom"}, PhaseLoading},
		{"loaded", State{IsLoaded: true}, PhaseLoaded},
		{"failed", State{Err: "API error: 500"}, PhaseFailed},
		{"stale", State{IsLoaded: true, Err: "API error: 502"}, PhaseStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Phase(); got != tt.want {
				t.Errorf("Phase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCache_Load_CoalescesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		calls.Add(1)
		<-release
		return testData("a", "b", "c"), nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))
	var joined, started atomic.Int32
	c.joined = func(s bool) {
		joined.Add(1)
		if s {
			started.Add(1)
		}
	}

	const n = 50
	results := make([]State, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Load(context.Background())
		}(i)
	}

	waitFor(t, func() bool { return joined.Load() == n })
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if got := started.Load(); got != 1 {
		t.Errorf("flights started = %d, want 1", got)
	}
	for i, s := range results {
		if !s.IsLoaded || s.IsLoading || len(s.Data.Posts) != 3 {
			t.Errorf("result %d = %+v", i, s)
		}
	}
}

func TestCache_Load_CoalescedFailure(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		calls.Add(1)
		<-release
		return nil, &StatusError{Code: 503}
	}}
	c := NewCache(src, WithLogger(quietLogger()))
	var joined atomic.Int32
	c.joined = func(bool) { joined.Add(1) }

	var wg sync.WaitGroup
	results := make([]State, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Load(context.Background())
		}(i)
	}
	// A caller arriving after the failure would start a retry.
	waitFor(t, func() bool { return int(joined.Load()) == len(results) })
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	for i, s := range results {
		if s.Err != "API error: 503" || s.IsLoading || s.IsLoaded {
			t.Errorf("result %d = %+v", i, s)
		}
	}
}

func TestCache_Load_CallerCancelDoesNotAbortFetch(t *testing.T) {
	release := make(chan struct{})
	var fetchCtxErr error
	src := &mockSource{fetchAll: func(ctx context.Context, _ int) (*PostsData, error) {
		<-release
		fetchCtxErr = ctx.Err()
		return testData("a"), nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := c.Load(ctx)
	if !s.IsLoading {
		t.Errorf("expected loading state, got %+v", s)
	}

	close(release)
	s = c.Load(context.Background())
	if !s.IsLoaded {
		t.Errorf("got %+v", s)
	}
	if fetchCtxErr != nil {
		t.Errorf("fetch ctx err = %v", fetchCtxErr)
	}
}

func TestCache_GetBySlug(t *testing.T) {
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		data := testData("a", "b")
		data.Posts = append(data.Posts, Post{ID: 99, Slug: "a", Title: "duplicate"})
		return data, nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))

	if _, ok := c.GetBySlug("a"); ok {
		t.Error("expected not found before load")
	}

	c.Load(context.Background())
	p, ok := c.GetBySlug("a")
	if !ok || p.ID != 1 {
		t.Errorf("got %+v ok=%v", p, ok)
	}
	if _, ok := c.GetBySlug("missing"); ok {
		t.Error("expected not found")
	}
	if _, ok := c.GetBySlug(""); ok {
		t.Error("expected not found for empty slug")
	}
}

func TestCache_Subscribe(t *testing.T) {
	t.Run("success transitions in order", func(t *testing.T) {
		src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) { return testData("a"), nil }}
		c := NewCache(src, WithLogger(quietLogger()))

		var phases []Phase
		unsubscribe := c.Subscribe(func(s State) { phases = append(phases, s.Phase()) })
		defer unsubscribe()

		c.Load(context.Background())
		c.Load(context.Background())

		want := []Phase{PhaseIdle, PhaseLoading, PhaseLoaded}
		if !equalPhases(phases, want) {
			t.Errorf("phases %v, want %v", phases, want)
		}
	})

	t.Run("failure then retry", func(t *testing.T) {
		var calls atomic.Int32
		src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("boom")
			}
			return testData("a"), nil
		}}
		c := NewCache(src, WithLogger(quietLogger()))

		var phases []Phase
		unsubscribe := c.Subscribe(func(s State) { phases = append(phases, s.Phase()) })
		defer unsubscribe()

		c.Load(context.Background())
		c.Load(context.Background())

		want := []Phase{PhaseIdle, PhaseLoading, PhaseFailed, PhaseLoading, PhaseLoaded}
		if !equalPhases(phases, want) {
			t.Errorf("phases %v, want %v", phases, want)
		}
	})

	t.Run("unsubscribe stops notifications", func(t *testing.T) {
		src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) { return testData("a"), nil }}
		c := NewCache(src, WithLogger(quietLogger()))

		var count int
		unsubscribe := c.Subscribe(func(State) { count++ })
		unsubscribe()
		unsubscribe()

		c.Load(context.Background())
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
	})
}

func TestCache_OnLoaded(t *testing.T) {
	var calls atomic.Int32
	src := &mockSource{fetchAll: func(context.Context, int) (*PostsData, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return testData("a", "b"), nil
	}}
	c := NewCache(src, WithLogger(quietLogger()))

	var got []int
	unsubscribe := c.OnLoaded(func(d PostsData) { got = append(got, len(d.Posts)) })
	defer unsubscribe()

	c.Load(context.Background())
	c.Load(context.Background())
	c.Load(context.Background())

	if len(got) != 1 || got[0] != 2 {
		t.Errorf("got %v", got)
	}
}

func TestCache_WithClient(t *testing.T) {
	t.Run("http 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewCache(NewClient(srv.URL, srv.Client()), WithLogger(quietLogger()))
		s := c.Load(context.Background())
		if s.Err != "API error: 500" || s.IsLoading || s.IsLoaded || len(s.Data.Posts) != 0 {
			t.Errorf("got %+v", s)
		}
	})

	t.Run("lookup after load", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"posts":[{"id":1,"title":"A","slug":"a","tags":["go"]}],"pagination":{"total":1,"page":1,"limit":1000,"lastPage":1}}`))
		}))
		defer srv.Close()

		c := NewCache(NewClient(srv.URL, srv.Client()), WithLogger(quietLogger()))
		c.Load(context.Background())
		c.Load(context.Background())

		p, ok := c.GetBySlug("a")
		if !ok || p.Title != "A" || len(p.Tags) != 1 {
			t.Errorf("got %+v ok=%v", p, ok)
		}
		if _, ok := c.GetBySlug("b"); ok {
			t.Error("expected b to be missing")
		}
		if n := hits.Load(); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		c := NewCache(NewClient(srv.URL, srv.Client()), WithLogger(quietLogger()))
		s := c.Load(context.Background())
		if s.Err == "" || s.IsLoaded {
			t.Errorf("got %+v", s)
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func equalPhases(a, b []Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
