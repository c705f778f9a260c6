package eventbus

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/orchardhq/orchard/ident"
)

// TestDispatchOrdersWakeCallsByPriorityThenAgentID verifies Bus.dispatch's
// documented recipient ordering: subscription priority descending, ties
// broken by ascending agent id, for randomly generated subscriber sets.
func TestDispatchOrdersWakeCallsByPriorityThenAgentID(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("wake is invoked in non-increasing priority order with ascending agent-id tiebreak", prop.ForAll(
		func(priorities []int) bool {
			if len(priorities) == 0 {
				return true
			}

			bus := New(nil, 10)

			type recipient struct {
				agentID  ident.AgentID
				priority ident.SubscriptionPriority
			}
			var expected []recipient
			for i, p := range priorities {
				agentID := ident.AgentID(string(rune('a' + (i % 26))))
				priority := ident.SubscriptionPriority(p % 4)
				bus.Subscribe(Subscription{
					AgentID:  agentID,
					Filter:   Filter{},
					Priority: priority,
				})
				expected = append(expected, recipient{agentID: agentID, priority: priority})
			}

			// de-duplicate by agent id, keeping the highest priority seen,
			// mirroring dispatch's own de-duplication.
			best := map[ident.AgentID]ident.SubscriptionPriority{}
			for _, r := range expected {
				if cur, ok := best[r.agentID]; !ok || r.priority > cur {
					best[r.agentID] = r.priority
				}
			}
			var want []recipient
			for agentID, priority := range best {
				want = append(want, recipient{agentID: agentID, priority: priority})
			}
			sort.Slice(want, func(i, j int) bool {
				if want[i].priority != want[j].priority {
					return want[i].priority > want[j].priority
				}
				return want[i].agentID < want[j].agentID
			})

			var got []ident.AgentID
			bus.SetWakeFunc(func(_ context.Context, agentID ident.AgentID, _ TriggerEvent) {
				got = append(got, agentID)
			})

			bus.Dispatch(context.Background(), TriggerEvent{Type: TypeCustom})

			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i].agentID {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
