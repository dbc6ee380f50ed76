package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyjsx/entries-site/internal/posts"
)

const TypeSnapshotLoaded = "posts.snapshot_loaded"

type SnapshotLoadedPayload struct {
	PostCount int      `json:"post_count"`
	Total     int      `json:"total"`
	Slugs     []string `json:"slugs"`
}

type SnapshotLoaded struct {
	ID        uuid.UUID             `json:"id"`
	Type      string                `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Payload   SnapshotLoadedPayload `json:"payload"`
}

func NewSnapshotLoaded(data posts.PostsData) SnapshotLoaded {
	slugs := make([]string, 0, len(data.Posts))
	for _, p := range data.Posts {
		slugs = append(slugs, p.Slug)
	}
	return SnapshotLoaded{
		ID:        uuid.New(),
		Type:      TypeSnapshotLoaded,
		Timestamp: time.Now().UTC(),
		Payload: SnapshotLoadedPayload{
			PostCount: len(data.Posts),
			Total:     data.Pagination.Total,
			Slugs:     slugs,
		},
	}
}

var ErrUnknownType = errors.New("unknown event type")

// DecodeSnapshotLoaded parses a message body published by RabbitMQPublisher.
func DecodeSnapshotLoaded(body []byte) (SnapshotLoaded, error) {
	var e SnapshotLoaded
	if err := json.Unmarshal(body, &e); err != nil {
		return SnapshotLoaded{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type != TypeSnapshotLoaded {
		return SnapshotLoaded{}, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return e, nil
}
