package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeremyjsx/entries-site/internal/posts"
)

const publishTimeout = 5 * time.Second

// Forward publishes a SnapshotLoaded event after every successful cache load.
// The returned stop func unsubscribes and waits for pending publishes.
func Forward(cache *posts.Cache, pub Publisher, logger *slog.Logger) (stop func()) {
	var wg sync.WaitGroup
	unsubscribe := cache.OnLoaded(func(data posts.PostsData) {
		e := NewSnapshotLoaded(data)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := pub.PublishSnapshotLoaded(ctx, e); err != nil {
				logger.Error("publish snapshot event failed", "event_id", e.ID, "error", err)
				return
			}
			logger.Debug("snapshot event published", "event_id", e.ID, "posts", e.Payload.PostCount)
		}()
	})
	return func() {
		unsubscribe()
		wg.Wait()
	}
}
