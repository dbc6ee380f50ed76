package posts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const DefaultPageLimit = 1000

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
	PhaseFailed  Phase = "failed"
	// PhaseStale means a reload failed after an earlier successful load.
	PhaseStale Phase = "stale"
)

// State is a snapshot of the cache. Data shares memory with the cache and
// must be treated as read-only.
type State struct {
	IsLoaded  bool      `json:"isLoaded"`
	IsLoading bool      `json:"isLoading"`
	Err       string    `json:"error"`
	Data      PostsData `json:"data"`
}

func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case s.Err != "" && s.IsLoaded:
		return PhaseStale
	case s.Err != "":
		return PhaseFailed
	case s.IsLoaded:
		return PhaseLoaded
	default:
		return PhaseIdle
	}
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPageLimit sets the page size requested on every load. It must be large
// enough to return the whole collection in one page.
func WithPageLimit(limit int) Option {
	return func(c *Cache) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// Cache holds the post collection fetched from a Source. Concurrent loads
// share a single request; a successful load is kept for the lifetime of the
// Cache and a failed one is retried on the next Load.
type Cache struct {
	source Source
	logger *slog.Logger
	limit  int

	// emitMu orders each transition with its notification.
	emitMu   sync.Mutex
	mu       sync.RWMutex
	state    State
	inflight *loadCall

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]func(State)

	// joined, when set, is called each time a Load call is bound to a
	// flight. Tests use it to know every caller is waiting.
	joined func(started bool)
}

type loadCall struct {
	done  chan struct{}
	state State
}

func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		logger: slog.Default(),
		limit:  DefaultPageLimit,
		state:  State{Data: emptyData()},
		subs:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the collection unless it is already loaded and returns the
// resulting state. Failures are recorded in State.Err, never returned.
// If ctx ends first, Load stops waiting and returns the current state; the
// fetch itself keeps running.
func (c *Cache) Load(ctx context.Context) State {
	call, started := c.begin()
	if call == nil {
		return c.State()
	}
	if started {
		go c.run(context.WithoutCancel(ctx), call)
	}

	select {
	case <-call.done:
		return call.state
	case <-ctx.Done():
		return c.State()
	}
}

// begin returns the in-flight call to wait on, starting a new one when
// none is running and the cache has no good snapshot.
func (c *Cache) begin() (*loadCall, bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		if c.joined != nil {
			c.joined(false)
		}
		return call, false
	}
	if c.state.IsLoaded && c.state.Err == "" {
		c.mu.Unlock()
		return nil, false
	}
	call := &loadCall{done: make(chan struct{})}
	c.inflight = call
	c.state.IsLoading = true
	snap := c.state
	c.mu.Unlock()

	c.logger.Debug("loading posts", "limit", c.limit)
	c.notify(snap)
	if c.joined != nil {
		c.joined(true)
	}
	return call, true
}

func (c *Cache) run(ctx context.Context, call *loadCall) {
	data, err := c.source.FetchAll(ctx, c.limit)
	if err == nil && data == nil {
		err = errors.New("empty response")
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.state.IsLoading = false
	if err != nil {
		c.state.Err = err.Error()
	} else {
		if data.Posts == nil {
			data.Posts = []Post{}
		}
		c.state.IsLoaded = true
		c.state.Err = ""
		c.state.Data = *data
	}
	call.state = c.state
	c.inflight = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("fetch posts failed", "error", err)
	} else {
		c.logger.Info("posts loaded", "count", len(data.Posts), "total", data.Pagination.Total)
	}
	c.notify(call.state)
	close(call.done)
}

// State returns the current snapshot without triggering a load.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetBySlug looks the slug up in the current snapshot.
func (c *Cache) GetBySlug(slug string) (Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.state.Data.Posts {
		if p.Slug == slug {
			return p, true
		}
	}
	return Post{}, false
}

// Subscribe registers fn for state changes. fn is called right away with the
// current state and then once per transition, in order. fn must not call
// Load, Subscribe or an unsubscribe func. Once unsubscribe returns, fn is
// not running and will not be called again.
func (c *Cache) Subscribe(fn func(State)) (unsubscribe func()) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.subsMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	c.subsMu.Unlock()

	fn(c.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			c.emitMu.Lock()
			defer c.emitMu.Unlock()
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

func (c *Cache) notify(s State) {
	c.subsMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// OnLoaded calls fn with the new data after every successful load that
// happens while subscribed. fn runs on the notifying goroutine and should
// hand slow work off.
func (c *Cache) OnLoaded(fn func(PostsData)) (unsubscribe func()) {
	first := true
	wasLoading := false
	return c.Subscribe(func(s State) {
		if first {
			first = false
			wasLoading = s.IsLoading
			return
		}
		if wasLoading && !s.IsLoading && s.Err == "" && s.IsLoaded {
			fn(s.Data)
		}
		wasLoading = s.IsLoading
	})
}
