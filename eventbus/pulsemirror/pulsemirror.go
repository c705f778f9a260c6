// Package pulsemirror implements eventbus.Mirror on top of a
// goa.design/pulse stream backed by Redis, so a second process can tail
// live dispatches or replay history without taking write ownership of any
// bus unit.
package pulsemirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/orchardhq/orchard/eventbus"
)

// Options configures a Mirror.
type Options struct {
	// Redis is the connection backing the Pulse stream. Required.
	Redis *redis.Client
	// StreamName is the Pulse stream every dispatched event is appended to.
	// Defaults to "orchard-events".
	StreamName string
	// StreamMaxLen bounds the number of entries kept in the stream. Zero
	// uses Pulse's own default.
	StreamMaxLen int
	// OperationTimeout bounds each Add call. Zero means no timeout.
	OperationTimeout time.Duration
}

// envelope is the JSON payload written to the Pulse stream for every
// mirrored event.
type envelope struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// streamPublisher is the subset of *streaming.Stream the mirror depends on,
// narrowed so tests can substitute a fake without a live Redis connection.
type streamPublisher interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	Destroy(ctx context.Context) error
}

// Mirror publishes every TriggerEvent handed to Publish onto a single
// Pulse stream.
type Mirror struct {
	stream  streamPublisher
	timeout time.Duration
}

// New constructs a Mirror. opts.Redis is required.
func New(opts Options) (*Mirror, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsemirror: redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = "orchard-events"
	}
	var streamOpts []streamopts.Stream
	if opts.StreamMaxLen > 0 {
		streamOpts = append(streamOpts, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	str, err := streaming.NewStream(name, opts.Redis, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("pulsemirror: create stream: %w", err)
	}
	return newWithStream(str, opts.OperationTimeout), nil
}

func newWithStream(stream streamPublisher, timeout time.Duration) *Mirror {
	return &Mirror{stream: stream, timeout: timeout}
}

// Publish implements eventbus.Mirror.
func (m *Mirror) Publish(ctx context.Context, event eventbus.TriggerEvent) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	payload, err := json.Marshal(envelope{
		ID:        string(event.ID),
		SourceID:  string(event.SourceID),
		Type:      string(event.Type),
		Priority:  int(event.Priority),
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("pulsemirror: marshal event: %w", err)
	}
	if _, err := m.stream.Add(ctx, string(event.Type), payload); err != nil {
		return fmt.Errorf("pulsemirror: publish: %w", err)
	}
	return nil
}

// Destroy removes the underlying Pulse stream and all its entries.
func (m *Mirror) Destroy(ctx context.Context) error {
	return m.stream.Destroy(ctx)
}

var _ eventbus.Mirror = (*Mirror)(nil)
