package events

import "context"

type NoopPublisher struct{}

func (NoopPublisher) PublishSnapshotLoaded(context.Context, SnapshotLoaded) error {
	return nil
}

var _ Publisher = (*NoopPublisher)(nil)
