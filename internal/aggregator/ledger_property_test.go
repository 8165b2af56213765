package aggregator

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
)

type ledgerOp struct {
	Kind int
	Call int
	Disp int
}

func genLedgerOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3),
		gen.IntRange(0, 5),
		gen.IntRange(0, len(disposition.All())-1),
	).Map(func(v []interface{}) ledgerOp {
		return ledgerOp{Kind: v[0].(int), Call: v[1].(int), Disp: v[2].(int)}
	})
}

// Whatever mix of finalizations, redeliveries, voids and corrections happens,
// the ledger projection equals a fresh fold of the call log.
func TestProperty_ProjectionMatchesCallLog(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	properties := gopter.NewProperties(params)

	statuses := []calls.Status{calls.StatusCompleted, calls.StatusNoAnswer, calls.StatusBusy, calls.StatusFailed, calls.StatusVoicemail}

	properties.Property("incremental == rebuilt", prop.ForAll(
		func(ops []ledgerOp) bool {
			f := newFixture(t, nil)
			ctx := context.Background()
			for i := 0; i < 6; i++ {
				c := finished(fmt.Sprintf("call-%d", i), fmt.Sprintf("c-%d", i%2), statuses[i%len(statuses)],
					disposition.All()[i%len(disposition.All())], pricing.NewCost(int64(i)*1_000, 500, 250, int64(i)*100))
				f.store(t, c)
			}
			for _, op := range ops {
				id := fmt.Sprintf("call-%d", op.Call)
				c, err := f.calls.Get(ctx, id)
				if err != nil {
					return false
				}
				switch op.Kind {
				case 0, 1:
					_, err = f.svc.Record(ctx, c)
				case 2:
					_, err = f.svc.Void(ctx, supervisor, id, "property")
					if err == ErrAlreadyVoided {
						err = nil
					}
				case 3:
					_, err = f.svc.Correct(ctx, supervisor, id, disposition.All()[op.Disp])
					if err == ErrAlreadyVoided {
						err = nil
					}
				}
				if err != nil {
					return false
				}
			}
			// Finalizations that never reached the hook are what Rebuild exists for;
			// deliver the rest so both sides cover the same calls.
			for i := 0; i < 6; i++ {
				c, _ := f.calls.Get(ctx, fmt.Sprintf("call-%d", i))
				if _, err := f.svc.Record(ctx, c); err != nil {
					return false
				}
			}
			all, _ := f.calls.List(ctx, calls.ListQuery{Finished: true})
			f.svc.mu.Lock()
			defer f.svc.mu.Unlock()
			return f.svc.rollups.Equal(Compute(all, f.svc.loc))
		},
		gen.SliceOf(genLedgerOp()),
	))

	properties.TestingRun(t)
}
