// Package healthmetric implements the built-in "health-metric" event source
// kind: it polls a gauge exposed through telemetry.PrometheusMetrics and
// fires a TriggerEvent on every poll at which the gauge is beyond a
// configured threshold (it does not track transitions, so a gauge that
// stays beyond the threshold fires once per poll).
package healthmetric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/telemetry"
)

// GaugeReader reads back a previously recorded gauge value, as implemented
// by telemetry.PrometheusMetrics.GaugeValue.
type GaugeReader interface {
	GaugeValue(name string, labelValues ...string) (float64, bool)
}

// Threshold names a single gauge watch: fire whenever the gauge's value
// compares true against Value using Above (>) or, if false, below (<).
type Threshold struct {
	GaugeName   string
	LabelValues []string
	Above       bool
	Value       float64
	Priority    ident.EventPriority
}

// Source polls a set of Thresholds against a GaugeReader at PollInterval.
type Source struct {
	id            ident.SourceID
	name          string
	reader        GaugeReader
	thresholds    []Threshold
	pollInterval  time.Duration

	mu     sync.Mutex
	state  eventbus.SourceState
	events chan eventbus.TriggerEvent
	cancel context.CancelFunc
}

var _ GaugeReader = (*telemetry.PrometheusMetrics)(nil)

// New constructs a health-metric Source. pollInterval of 0 uses 60s,
// matching the documented default event-monitor interval.
func New(id ident.SourceID, name string, reader GaugeReader, thresholds []Threshold, pollInterval time.Duration) *Source {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Source{
		id:           id,
		name:         name,
		reader:       reader,
		thresholds:   thresholds,
		pollInterval: pollInterval,
		state:        eventbus.StateIdle,
		events:       make(chan eventbus.TriggerEvent, 16),
	}
}

func (s *Source) ID() ident.SourceID                   { return s.id }
func (s *Source) Name() string                         { return s.name }
func (s *Source) Kind() eventbus.SourceKind            { return eventbus.KindHealthMetric }
func (s *Source) SupportedTypes() []eventbus.EventType { return []eventbus.EventType{eventbus.TypeHealthMetric} }
func (s *Source) Events() <-chan eventbus.TriggerEvent { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == eventbus.StateRunning {
		return nil
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.poll(watchCtx)
	s.state = eventbus.StateRunning
	return nil
}

func (s *Source) poll(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkThresholds()
		}
	}
}

func (s *Source) checkThresholds() {
	for _, th := range s.thresholds {
		value, ok := s.reader.GaugeValue(th.GaugeName, th.LabelValues...)
		if !ok {
			continue
		}
		crossed := th.Above && value > th.Value
		crossed = crossed || (!th.Above && value < th.Value)
		if !crossed {
			continue
		}
		s.events <- eventbus.TriggerEvent{
			ID:       ident.NewEventID(),
			SourceID: s.id,
			Type:     eventbus.TypeHealthMetric,
			Priority: th.Priority,
			Metadata: map[string]string{
				"gauge": th.GaugeName,
				"value": fmt.Sprintf("%g", value),
			},
		}
	}
}

func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = eventbus.StateStopped
	close(s.events)
	return nil
}
