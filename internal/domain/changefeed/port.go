package changefeed

import "context"

// Stream delivers records for one topic in source order. Records is closed
// when the stream ends; Err then reports why (nil after Close).
type Stream interface {
	Records() <-chan Record
	Err() error
	Close() error
}

type Source interface {
	Open(ctx context.Context, topic Topic) (Stream, error)
}

type Publisher interface {
	Publish(ctx context.Context, r Record)
}
