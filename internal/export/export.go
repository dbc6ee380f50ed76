// Package export writes the data a static build needs to storage: the full
// collection, the list of prerenderable slugs, the tag index and one file
// per post.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jeremyjsx/entries-site/internal/pages"
	"github.com/jeremyjsx/entries-site/internal/posts"
	"github.com/jeremyjsx/entries-site/internal/storage"
)

const (
	PostsKey   = "posts.json"
	EntriesKey = "entries.json"
	TagsKey    = "tags.json"
	postsDir   = "posts"
)

var ErrNotLoaded = errors.New("posts not loaded")

type Exporter struct {
	cache   *posts.Cache
	loader  *pages.Loader
	storage storage.Storage
	logger  *slog.Logger
}

func NewExporter(cache *posts.Cache, loader *pages.Loader, st storage.Storage, logger *slog.Logger) *Exporter {
	return &Exporter{
		cache:   cache,
		loader:  loader,
		storage: st,
		logger:  logger,
	}
}

type Result struct {
	Posts int
	Keys  []string
	// Skipped lists slugs that cannot be used as an object name.
	Skipped []string
	// Pruned lists slugs whose post file was removed because the post is
	// gone from the collection.
	Pruned []string
}

// validSlug reports whether slug can name a file directly under posts/.
func validSlug(slug string) bool {
	return slug != "" && slug != "." && slug != ".." && !strings.ContainsAny(slug, `/\`)
}

func postKey(slug string) string {
	return path.Join(postsDir, slug+".json")
}

// Export loads the cache and uploads the snapshot. It refuses to publish
// when no successful load has happened, so a build never ships an empty
// site because the API was down. Post files left over from the previous
// export are deleted once the new snapshot is in place.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	s := e.cache.Load(ctx)
	if !s.IsLoaded {
		if s.Err != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotLoaded, s.Err)
		}
		return nil, ErrNotLoaded
	}
	if s.Err != "" {
		e.logger.Warn("exporting stale snapshot", "error", s.Err)
	}

	// Read before entries.json is overwritten below.
	previous := e.previousSlugs(ctx)

	res := &Result{Posts: len(s.Data.Posts)}
	put := func(key string, v any) error {
		if err := e.putJSON(ctx, key, v); err != nil {
			return err
		}
		res.Keys = append(res.Keys, key)
		return nil
	}

	current := make(map[string]bool, len(s.Data.Posts))
	for _, p := range s.Data.Posts {
		if !validSlug(p.Slug) {
			e.logger.Warn("skipping post with unusable slug", "id", p.ID, "slug", p.Slug)
			res.Skipped = append(res.Skipped, p.Slug)
			continue
		}
		current[p.Slug] = true
		if err := put(postKey(p.Slug), posts.PostResponse{Post: &p, Status: "success"}); err != nil {
			return nil, err
		}
	}
	if err := put(TagsKey, tagIndex(e.loader.Tags(ctx), current)); err != nil {
		return nil, err
	}
	if err := put(EntriesKey, entryList(e.loader.Entries(ctx), current)); err != nil {
		return nil, err
	}
	// The collection goes last; its presence marks a complete export.
	if err := put(PostsKey, s.Data); err != nil {
		return nil, err
	}

	for _, slug := range previous {
		if current[slug] || !validSlug(slug) {
			continue
		}
		if err := e.storage.Delete(ctx, postKey(slug)); err != nil {
			e.logger.Warn("prune post failed", "slug", slug, "error", err)
			continue
		}
		res.Pruned = append(res.Pruned, slug)
	}

	e.logger.Info("snapshot exported",
		"posts", res.Posts,
		"objects", len(res.Keys),
		"skipped", len(res.Skipped),
		"pruned", len(res.Pruned),
	)
	return res, nil
}

// previousSlugs reads the manifest of the last export. Any failure only
// disables pruning for this run.
func (e *Exporter) previousSlugs(ctx context.Context) []string {
	body, err := e.storage.Download(ctx, EntriesKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		e.logger.Warn("read previous entries failed", "error", err)
		return nil
	}
	defer body.Close()

	var entries []pages.Entry
	if err := json.NewDecoder(body).Decode(&entries); err != nil {
		e.logger.Warn("decode previous entries failed", "error", err)
		return nil
	}
	slugs := make([]string, 0, len(entries))
	for _, en := range entries {
		slugs = append(slugs, en.Slug)
	}
	return slugs
}

func entryList(entries []pages.Entry, keep map[string]bool) []pages.Entry {
	out := make([]pages.Entry, 0, len(entries))
	for _, en := range entries {
		if keep[en.Slug] {
			out = append(out, en)
		}
	}
	return out
}

func tagIndex(groups []pages.TagGroup, keep map[string]bool) []pages.TagGroup {
	out := make([]pages.TagGroup, 0, len(groups))
	for _, g := range groups {
		slugs := make([]string, 0, len(g.Slugs))
		for _, slug := range g.Slugs {
			if keep[slug] {
				slugs = append(slugs, slug)
			}
		}
		if len(slugs) > 0 {
			out = append(out, pages.TagGroup{Tag: g.Tag, Slugs: slugs})
		}
	}
	return out
}

func (e *Exporter) putJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := e.storage.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
