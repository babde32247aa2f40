package server

import (
	"context"

	"matjip-chat/internal/events"
)

// Bridge feeds bus traffic from every relay node into the local hub.
type Bridge struct {
	subscriber events.Subscriber
	hub        *Hub
}

func NewBridge(subscriber events.Subscriber, hub *Hub) *Bridge {
	return &Bridge{subscriber: subscriber, hub: hub}
}

func (b *Bridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, events.BusPatterns, b.hub.Deliver)
}
