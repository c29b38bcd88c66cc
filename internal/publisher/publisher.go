// Package publisher announces completed search runs to downstream consumers.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to a topic and returns the
// message id assigned by the backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
