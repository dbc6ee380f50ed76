package posts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

var _ Mirror = (*PostgresMirror)(nil)

const createMirrorTable = `
CREATE TABLE IF NOT EXISTS posts_mirror (
	id             INTEGER PRIMARY KEY,
	slug           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	excerpt        TEXT NOT NULL,
	content        TEXT NOT NULL,
	featured_image TEXT NOT NULL,
	published_date TEXT NOT NULL,
	updated_date   TEXT NOT NULL,
	tags           TEXT[] NOT NULL,
	synced_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertMirrorPost = `
INSERT INTO posts_mirror (id, slug, title, excerpt, content, featured_image, published_date, updated_date, tags, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE SET
	slug = EXCLUDED.slug,
	title = EXCLUDED.title,
	excerpt = EXCLUDED.excerpt,
	content = EXCLUDED.content,
	featured_image = EXCLUDED.featured_image,
	published_date = EXCLUDED.published_date,
	updated_date = EXCLUDED.updated_date,
	tags = EXCLUDED.tags,
	synced_at = now()`

// PostgresMirror keeps a copy of the last loaded collection in posts_mirror.
type PostgresMirror struct {
	db *sql.DB
}

func NewPostgresMirror(db *sql.DB) *PostgresMirror {
	return &PostgresMirror{db: db}
}

func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMirrorTable); err != nil {
		return fmt.Errorf("create posts_mirror: %w", err)
	}
	return nil
}

// Save upserts every post and removes rows no longer present in the snapshot.
func (m *PostgresMirror) Save(ctx context.Context, posts []Post) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertMirrorPost)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Slug, p.Title, p.Excerpt, p.Content,
			p.FeaturedImage, p.PublishedDate, p.UpdatedDate, pq.Array(tags),
		); err != nil {
			return fmt.Errorf("upsert post %q: %w", p.Slug, err)
		}
		ids = append(ids, int64(p.ID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts_mirror WHERE NOT (id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("prune posts_mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
