package events

import "context"

// Publisher fans a payload out to every node subscribed to channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers payloads of channels matching patterns until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// Bus is both sides of the fan-out.
type Bus interface {
	Publisher
	Subscriber
}
