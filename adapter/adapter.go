// Package adapter defines the notification boundary for skin changes.
//
// Adapters publish a SkinEvent whenever the server stores or resets a
// participant's skin, so external systems (web galleries, moderation
// queues) can follow along without speaking the transfer protocol.
package adapter

import "context"

// Event types.
const (
	EventSkinUpdated = "skin_updated"
	EventSkinReset   = "skin_reset"
)

// SkinEvent is the JSON payload published on a skin change.
type SkinEvent struct {
	ProtocolVersion int    `json:"protocol_version"`
	EventType       string `json:"event_type"` // skin_updated or skin_reset
	Owner           string `json:"owner"`
	Name            string `json:"name,omitempty"`
	Slim            bool   `json:"slim"`
	Bytes           int    `json:"bytes"`
	Recipients      int    `json:"recipients"`
	Timestamp       string `json:"timestamp"` // RFC 3339
}

// Adapter publishes skin events to a downstream system.
type Adapter interface {
	// Publish sends an event downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SkinEvent) error

	// Close releases adapter resources.
	Close() error
}
