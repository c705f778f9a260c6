package eventbus

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/orchardhq/orchard/ident"
)

var filterPropertyTypes = []EventType{TypeScheduled, TypeFileChange, TypeCalendar, TypeNotification}

// TestFilterMatchesIsConjunctionOfItsDimensions exercises Filter.Matches
// against an independently computed reference conjunction across randomly
// generated events and per-dimension constraints, rather than a handful of
// fixed cases.
func TestFilterMatchesIsConjunctionOfItsDimensions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Matches agrees with an independently computed conjunction", prop.ForAll(
		func(
			eventTypeIdx, eventPriority, minPriorityOrNegative, flags int,
			eventMeta, requiredMeta string,
		) bool {
			sourceMatches := flags&1 != 0
			constrainType := flags&2 != 0
			requireMeta := flags&4 != 0

			eventType := filterPropertyTypes[eventTypeIdx%len(filterPropertyTypes)]
			event := TriggerEvent{
				Type:     eventType,
				SourceID: "src-event",
				Priority: ident.EventPriority(eventPriority),
				Metadata: map[string]string{"k": eventMeta},
			}

			f := Filter{}
			expected := true

			if constrainType {
				// Include only a type other than the event's own, so the
				// type dimension always fails when constrained this way.
				other := filterPropertyTypes[(eventTypeIdx+1)%len(filterPropertyTypes)]
				f.Types = map[EventType]struct{}{other: {}}
				expected = false
			}

			if sourceMatches {
				f.Sources = map[ident.SourceID]struct{}{"src-event": {}, "src-other": {}}
			} else {
				f.Sources = map[ident.SourceID]struct{}{"src-other": {}}
				expected = false
			}

			if minPriorityOrNegative >= 0 {
				mp := ident.EventPriority(minPriorityOrNegative)
				f.MinPriority = &mp
				if event.Priority < mp {
					expected = false
				}
			}

			if requireMeta {
				f.RequiredMetadata = map[string]string{"k": requiredMeta}
				if event.Metadata["k"] != requiredMeta {
					expected = false
				}
			}

			return f.Matches(event) == expected
		},
		gen.IntRange(0, len(filterPropertyTypes)-1),
		gen.IntRange(0, 3),
		gen.IntRange(-1, 3),
		gen.IntRange(0, 7),
		gen.OneConstOf("v", "other"),
		gen.OneConstOf("v", "other"),
	))

	properties.TestingRun(t)
}

// TestFilterWithNoConstraintsAlwaysMatches covers the identity element of
// the conjunction: an empty Filter matches every event.
func TestFilterWithNoConstraintsAlwaysMatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("empty filter matches any event", prop.ForAll(
		func(eventTypeIdx, priority int) bool {
			event := TriggerEvent{
				Type:     filterPropertyTypes[eventTypeIdx%len(filterPropertyTypes)],
				Priority: ident.EventPriority(priority),
			}
			return Filter{}.Matches(event)
		},
		gen.IntRange(0, len(filterPropertyTypes)-1),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
