package events

import "context"

type Publisher interface {
	PublishSnapshotLoaded(ctx context.Context, e SnapshotLoaded) error
}
