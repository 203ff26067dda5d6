package run

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCancelRunIsIdempotentOnTerminalRunsProperty verifies invariant 9
// (spec.md §8): calling cancel_run on a terminal Run returns success
// without altering stored fields.
func TestCancelRunIsIdempotentOnTerminalRunsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	terminalPaths := []func(ctx context.Context, svc *Service, runID string) error{
		func(ctx context.Context, svc *Service, runID string) error {
			_, err := svc.PersistRunState(ctx, runID, StatusRunning, nil)
			if err != nil {
				return err
			}
			_, err = svc.PersistRunState(ctx, runID, StatusCompleted, nil)
			return err
		},
		func(ctx context.Context, svc *Service, runID string) error {
			_, err := svc.PersistRunState(ctx, runID, StatusRunning, nil)
			if err != nil {
				return err
			}
			_, err = svc.PersistRunState(ctx, runID, StatusFailed, nil)
			return err
		},
		func(ctx context.Context, svc *Service, runID string) error {
			_, err := svc.CancelRun(ctx, runID)
			return err
		},
	}

	properties.Property("repeated cancel calls on a terminal run never change its stored state", prop.ForAll(
		func(pathIdx int, repeats int) bool {
			ctx := context.Background()
			store := NewInMemoryStore()
			svc := NewService(store)

			r, err := svc.CreateRun(ctx, "sess-1", "build me a site", "")
			if err != nil {
				return false
			}
			if err := terminalPaths[pathIdx%len(terminalPaths)](ctx, svc, r.RunID); err != nil {
				return false
			}

			before, err := svc.GetRun(ctx, r.RunID)
			if err != nil {
				return false
			}

			for i := 0; i < repeats; i++ {
				after, err := svc.CancelRun(ctx, r.RunID)
				if err != nil {
					return false
				}
				if after.Status != before.Status || !after.EndedAt.Equal(before.EndedAt) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(terminalPaths)-1),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestTransitionsNeverSkipThePermittedTableProperty verifies invariant 2:
// every Run's sequence of status values is a legal walk on the §4.4 state
// machine — any transition attempt outside the permitted table is rejected
// and the Run's stored status is left unchanged.
func TestTransitionsNeverSkipThePermittedTableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	allStatuses := []Status{
		StatusQueued, StatusRunning, StatusWaitingInput,
		StatusCompleted, StatusFailed, StatusCancelled,
	}

	properties.Property("an illegal transition is rejected and leaves status unchanged", prop.ForAll(
		func(toIdx int) bool {
			ctx := context.Background()
			svc := NewService(NewInMemoryStore())
			r, err := svc.CreateRun(ctx, "sess-1", "hi", "")
			if err != nil {
				return false
			}

			to := allStatuses[toIdx%len(allStatuses)]
			legal := permitted[StatusQueued][to]

			after, err := svc.PersistRunState(ctx, r.RunID, to, nil)
			if legal {
				return err == nil && after.Status == to
			}
			if err == nil {
				return false
			}
			reloaded, getErr := svc.GetRun(ctx, r.RunID)
			return getErr == nil && reloaded.Status == StatusQueued
		},
		gen.IntRange(0, len(allStatuses)-1),
	))

	properties.TestingRun(t)
}

// TestSameStatusTransitionIsRejectedProperty verifies the permitted table is
// consulted unconditionally, including for from == to: only cancel_run gets
// idempotent re-entry (via CancelRun's own terminal short-circuit, never
// through the permitted table), so a same-status PersistRunState call from
// a non-terminal status is always a state conflict.
func TestSameStatusTransitionIsRejectedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	nonTerminal := []Status{StatusRunning, StatusWaitingInput}

	properties.Property("persisting the status a run is already in is always rejected", prop.ForAll(
		func(idx int) bool {
			ctx := context.Background()
			svc := NewService(NewInMemoryStore())
			r, err := svc.CreateRun(ctx, "sess-1", "hi", "")
			if err != nil {
				return false
			}
			if _, err := svc.StartRun(ctx, r.RunID); err != nil {
				return false
			}

			status := nonTerminal[idx%len(nonTerminal)]
			if status == StatusWaitingInput {
				if _, err := svc.PersistRunState(ctx, r.RunID, StatusWaitingInput, nil); err != nil {
					return false
				}
			}

			_, err = svc.PersistRunState(ctx, r.RunID, status, nil)
			if err == nil {
				return false
			}
			reloaded, getErr := svc.GetRun(ctx, r.RunID)
			return getErr == nil && reloaded.Status == status
		},
		gen.IntRange(0, len(nonTerminal)-1),
	))

	properties.TestingRun(t)
}
