package pulsemirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

type fakeStream struct {
	events      []string
	payloads    [][]byte
	addErr      error
	destroyed   bool
	destroyErr  error
	lastAddedAt time.Time
}

func (f *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	f.lastAddedAt = time.Now()
	return "0-1", nil
}

func (f *fakeStream) Destroy(ctx context.Context) error {
	f.destroyed = true
	return f.destroyErr
}

func TestNewRejectsMissingRedisClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestPublishMarshalsEventAndAppendsToStream(t *testing.T) {
	fs := &fakeStream{}
	m := newWithStream(fs, 0)

	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	event := eventbus.TriggerEvent{
		ID:        ident.EventID("evt-1"),
		SourceID:  ident.SourceID("src-1"),
		Type:      eventbus.TypeNotification,
		Priority:  ident.PriorityHigh,
		Timestamp: ts,
		Metadata:  map[string]string{"k": "v"},
	}

	require.NoError(t, m.Publish(context.Background(), event))
	require.Len(t, fs.events, 1)
	require.Equal(t, string(eventbus.TypeNotification), fs.events[0])

	var env envelope
	require.NoError(t, json.Unmarshal(fs.payloads[0], &env))
	require.Equal(t, "evt-1", env.ID)
	require.Equal(t, "src-1", env.SourceID)
	require.Equal(t, string(eventbus.TypeNotification), env.Type)
	require.Equal(t, int(ident.PriorityHigh), env.Priority)
	require.True(t, ts.Equal(env.Timestamp))
	require.Equal(t, map[string]string{"k": "v"}, env.Metadata)
}

func TestPublishWrapsStreamError(t *testing.T) {
	fs := &fakeStream{addErr: errors.New("boom")}
	m := newWithStream(fs, 0)

	err := m.Publish(context.Background(), eventbus.TriggerEvent{
		ID:   ident.EventID("evt-1"),
		Type: eventbus.TypeNotification,
	})
	require.Error(t, err)
}

func TestDestroyDelegatesToStream(t *testing.T) {
	fs := &fakeStream{}
	m := newWithStream(fs, 0)

	require.NoError(t, m.Destroy(context.Background()))
	require.True(t, fs.destroyed)
}

var _ eventbus.Mirror = (*Mirror)(nil)
