// Package pages holds the load hooks the site runs when prerendering or
// navigating to a page. Every hook reads from the shared posts.Cache.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jeremyjsx/entries-site/internal/posts"
)

type Loader struct {
	cache  *posts.Cache
	source posts.Source
	logger *slog.Logger
}

func NewLoader(cache *posts.Cache, source posts.Source, logger *slog.Logger) *Loader {
	return &Loader{
		cache:  cache,
		source: source,
		logger: logger,
	}
}

// Entry identifies one prerenderable post page.
type Entry struct {
	Slug string `json:"slug"`
}

type TagGroup struct {
	Tag   string   `json:"tag"`
	Slugs []string `json:"slugs"`
}

// Layout runs for every page. On the server the load is awaited so the
// rendered page has data; in the browser it is started in the background.
func (l *Loader) Layout(ctx context.Context, browser bool) {
	if browser {
		go l.cache.Load(context.WithoutCancel(ctx))
		return
	}
	l.cache.Load(ctx)
}

// Blog makes sure the collection is loaded and returns the resulting state.
func (l *Loader) Blog(ctx context.Context) posts.State {
	return l.cache.Load(ctx)
}

// Entries lists every known slug after a load. A failed load yields the
// slugs of whatever snapshot is cached, possibly none.
func (l *Loader) Entries(ctx context.Context) []Entry {
	s := l.cache.Load(ctx)
	entries := make([]Entry, 0, len(s.Data.Posts))
	for _, p := range s.Data.Posts {
		entries = append(entries, Entry{Slug: p.Slug})
	}
	return entries
}

// Post resolves a single post from the cache, falling back to the
// single-post endpoint when the cached collection does not have it.
func (l *Loader) Post(ctx context.Context, slug string) (posts.Post, error) {
	l.cache.Load(ctx)
	if p, ok := l.cache.GetBySlug(slug); ok {
		return p, nil
	}

	p, err := l.source.FetchBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return posts.Post{}, posts.ErrNotFound
		}
		return posts.Post{}, fmt.Errorf("fetch post %q: %w", slug, err)
	}
	l.logger.Debug("post served from API", "slug", slug)
	return *p, nil
}

// Tags groups slugs by tag. Groups are sorted by tag; slugs keep the
// collection order.
func (l *Loader) Tags(ctx context.Context) []TagGroup {
	s := l.cache.Load(ctx)
	if s.Err != "" {
		l.logger.Warn("tags page using cached posts", "error", s.Err)
	}

	index := make(map[string][]string)
	for _, p := range s.Data.Posts {
		seen := make(map[string]bool, len(p.Tags))
		for _, tag := range p.Tags {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			index[tag] = append(index[tag], p.Slug)
		}
	}

	groups := make([]TagGroup, 0, len(index))
	for tag, slugs := range index {
		groups = append(groups, TagGroup{Tag: tag, Slugs: slugs})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Tag < groups[j].Tag })
	return groups
}
