package eventbus

import "context"

// Mirror publishes dispatched events to an external stream so a second
// process can replay the history ring or tail live dispatches, per the
// multi-process deployment note: the bus stays fully functional without one
// configured, and publish failures never block or fail delivery to
// in-process subscribers.
type Mirror interface {
	Publish(ctx context.Context, event TriggerEvent) error
}

// SetMirror installs m as the bus's external event mirror. Pass nil to
// disable mirroring.
func (b *Bus) SetMirror(m Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = m
}

func (b *Bus) mirrorEvent(ctx context.Context, event TriggerEvent) {
	b.mu.Lock()
	m := b.mirror
	b.mu.Unlock()
	if m == nil {
		return
	}
	go func() {
		if err := m.Publish(context.WithoutCancel(ctx), event); err != nil {
			b.logger.Warn(ctx, "eventbus: mirror publish failed", "event_id", string(event.ID), "error", err.Error())
		}
	}()
}
