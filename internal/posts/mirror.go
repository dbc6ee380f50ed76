package posts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const mirrorTimeout = 30 * time.Second

// Mirror persists loaded snapshots outside the process.
type Mirror interface {
	Save(ctx context.Context, posts []Post) error
}

// MirrorOnLoad saves every successfully loaded snapshot to m. The returned
// stop func unsubscribes and waits for saves still running.
func MirrorOnLoad(c *Cache, m Mirror, logger *slog.Logger) (stop func()) {
	var wg sync.WaitGroup
	unsubscribe := c.OnLoaded(func(data PostsData) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := m.Save(ctx, data.Posts); err != nil {
				logger.Error("mirror posts failed", "error", err)
				return
			}
			logger.Info("posts mirrored", "count", len(data.Posts))
		}()
	})
	return func() {
		unsubscribe()
		wg.Wait()
	}
}
