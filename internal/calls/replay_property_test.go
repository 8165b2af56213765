package calls

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"campaign-dialer/internal/pricing"
)

var propertyLabels = []string{"", "positive", "negative", "declined", "consented", "unknown_label"}

// buildEvents turns packed seeds into a log. Timestamps collide on purpose so
// the id tie-break is exercised.
func buildEvents(seeds []int) []Event {
	out := make([]Event, 0, len(seeds))
	for i, n := range seeds {
		ev := Event{
			ID: fmt.Sprintf("ev-%03d", i),
			At: t0.Add(time.Duration(n%20) * time.Second),
		}
		switch (n / 20) % 4 {
		case 0:
			ev.Kind = EventAnswered
		case 1:
			ev.Kind = EventCost
			ev.Cost = pricing.NewCost(int64(n%7)*1000, int64(n%5)*100, 0, int64(n%3)*10)
		default:
			ev.Kind = EventTurn
			ev.Speaker = SpeakerLead
			ev.Label = propertyLabels[(n/80)%len(propertyLabels)]
		}
		out = append(out, ev)
	}
	return out
}

func sameState(a, b State) bool {
	return a.Phase == b.Phase &&
		a.ScriptState == b.ScriptState &&
		a.Turns == b.Turns &&
		a.Misses == b.Misses &&
		a.Cost == b.Cost &&
		a.AnsweredAt.Equal(b.AnsweredAt) &&
		a.LastEventAt.Equal(b.LastEventAt)
}

func TestReplay_DeliveryOrderDoesNotMatter(t *testing.T) {
	snap := bookingSnapshot(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any delivery order with redeliveries yields the replayed state", prop.ForAll(
		func(seeds []int, shuffleSeed int64, redeliver int) bool {
			log := buildEvents(seeds)
			want := Replay(snap, log)

			delivery := append([]Event(nil), log...)
			for i := 0; i < redeliver && i < len(log); i++ {
				delivery = append(delivery, log[i])
			}
			rng := rand.New(rand.NewSource(shuffleSeed))
			rng.Shuffle(len(delivery), func(i, j int) { delivery[i], delivery[j] = delivery[j], delivery[i] })

			s := NewSession(Call{ID: "call-p"}, snap)
			for _, ev := range delivery {
				if _, _, _, err := s.Apply(ev); err != nil {
					return false
				}
			}
			if !sameState(s.State(), want) {
				return false
			}
			restored := RestoreSession(Call{ID: "call-p"}, snap, s.Events())
			return sameState(restored.State(), want) && restored.State().Cost.Validate() == nil
		},
		gen.SliceOf(gen.IntRange(0, 20*4*len(propertyLabels)-1)),
		gen.Int64(),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
