package posts

import "context"

// Source fetches posts from the remote blog API.
type Source interface {
	FetchAll(ctx context.Context, limit int) (*PostsData, error)
	FetchBySlug(ctx context.Context, slug string) (*Post, error)
}
