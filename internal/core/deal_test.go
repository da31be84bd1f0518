package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"crmcore/pkg/domain"
)

// newDealHarness wires a controller whose API applies every planned transition.
func newDealHarness() (*DealController, *fakeDealAPI, *captureNotifier) {
	api := &fakeDealAPI{}
	api.transition = func(_ context.Context, id domain.EntityID, plan domain.DealTransition) (domain.Deal, error) {
		return domain.Deal{}, errors.New("unexpected transition")
	}
	notifier := &captureNotifier{}
	ctrl := NewDealController(api, fakePipelines{1: salesPipeline()}, &captureCache{}, notifier)
	return ctrl, api, notifier
}

func openDeal() domain.Deal {
	return domain.Deal{Base: domain.Base{ID: 7, Version: 3}, Title: "Renewal", PipelineID: 1, StageID: 10, Status: domain.DealOpen}
}

// applying returns a transition hook that behaves like a backend: it checks
// the version and applies the plan.
func applying(current *domain.Deal) func(context.Context, domain.EntityID, domain.DealTransition) (domain.Deal, error) {
	return func(_ context.Context, id domain.EntityID, plan domain.DealTransition) (domain.Deal, error) {
		if plan.Version != current.Version {
			return domain.Deal{}, domain.NewConflictError(domain.EntityDeal, id, plan.Version, current.Version)
		}
		next := domain.ApplyDealTransition(*current, plan)
		next.Version++
		*current = next
		return next, nil
	}
}

func TestMoveStageWhileWonIsRejectedWithoutAPICall(t *testing.T) {
	ctrl, api, notifier := newDealHarness()
	won := openDeal()
	won.Status, won.StageID = domain.DealWon, 12

	_, err := ctrl.MoveStage(context.Background(), won, 11, nil)
	var terr *domain.TransitionError
	if !errors.As(err, &terr) || terr.From != domain.DealWon {
		t.Fatalf("expected a transition error, got %v", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("illegal transition must not call the API: %v", api.Calls())
	}
	if _, e := notifier.counts(); e != 1 || !strings.Contains(notifier.errors[0], "only allowed from OPEN") {
		t.Fatalf("unexpected notifications %v", notifier.errors)
	}
}

func TestReopenWhileOpenIsRejectedWithoutAPICall(t *testing.T) {
	ctrl, api, _ := newDealHarness()
	_, err := ctrl.Reopen(context.Background(), openDeal(), nil)
	var terr *domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a transition error, got %v", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("illegal transition must not call the API: %v", api.Calls())
	}
}

func TestCloseWonThenReopenRestoresStage(t *testing.T) {
	ctrl, api, notifier := newDealHarness()
	current := openDeal()
	current.StageID = 11
	api.transition = applying(&current)
	ctx := context.Background()

	var continued domain.Deal
	won, err := ctrl.CloseWon(ctx, current, func(d domain.Deal) { continued = d })
	if err != nil {
		t.Fatalf("close won: %v", err)
	}
	if won.Status != domain.DealWon || won.StageID != 12 || won.PreviousStageID == nil || *won.PreviousStageID != 11 {
		t.Fatalf("unexpected won deal %+v", won)
	}
	if continued.Version != won.Version {
		t.Fatalf("continuation must receive the updated deal")
	}

	reopened, err := ctrl.Reopen(ctx, won, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.DealOpen || reopened.StageID != 11 || reopened.PreviousStageID != nil {
		t.Fatalf("expected the pre-close stage back, got %+v", reopened)
	}
	if ctrl.Tracker().InFlight(MutationTransition, 7) {
		t.Fatalf("transition must be cleared")
	}
	if s, _ := notifier.counts(); s != 2 || notifier.successes[1] != "Deal reopened" {
		t.Fatalf("unexpected notifications %v", notifier.successes)
	}
}

func TestCloseLostCarriesReason(t *testing.T) {
	ctrl, api, _ := newDealHarness()
	current := openDeal()
	api.transition = applying(&current)

	lost, err := ctrl.CloseLost(context.Background(), current, "went with a competitor", nil)
	if err != nil {
		t.Fatalf("close lost: %v", err)
	}
	if lost.Status != domain.DealLost || lost.StageID != 13 || lost.LostReason != "went with a competitor" {
		t.Fatalf("unexpected lost deal %+v", lost)
	}
}

func TestStaleTransitionIsConflict(t *testing.T) {
	ctrl, api, notifier := newDealHarness()
	current := openDeal()
	current.Version = 4
	api.transition = applying(&current)

	stale := openDeal() // version 3
	_, err := ctrl.MoveStage(context.Background(), stale, 11, nil)
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if current.StageID != 10 {
		t.Fatalf("stale transition must not apply")
	}
	if ctrl.Tracker().Busy(7) {
		t.Fatalf("deal 7 must be idle after the failure")
	}
	if _, e := notifier.counts(); e != 1 || !strings.Contains(notifier.errors[0], "Reload it") {
		t.Fatalf("unexpected notifications %v", notifier.errors)
	}
}

func TestMoveStageValidatesTarget(t *testing.T) {
	ctrl, api, _ := newDealHarness()
	current := openDeal()
	api.transition = applying(&current)
	ctx := context.Background()

	for _, stage := range []domain.EntityID{10, 12, 99} {
		if _, err := ctrl.MoveStage(ctx, current, stage, nil); err == nil {
			t.Fatalf("move to stage %d must fail", stage)
		}
	}
	for _, call := range api.Calls() {
		if strings.HasPrefix(call, "transition") {
			t.Fatalf("invalid targets must not reach the API: %v", api.Calls())
		}
	}
	moved, err := ctrl.MoveStage(ctx, current, 11, nil)
	if err != nil || moved.StageID != 11 || moved.Status != domain.DealOpen {
		t.Fatalf("move: %+v %v", moved, err)
	}
}

func TestTransitionRequiresVersionAndPipeline(t *testing.T) {
	ctrl, api, _ := newDealHarness()
	ctx := context.Background()

	unversioned := openDeal()
	unversioned.Version = 0
	if _, err := ctrl.CloseWon(ctx, unversioned, nil); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	orphan := openDeal()
	orphan.PipelineID = 5
	if _, err := ctrl.CloseWon(ctx, orphan, nil); !domain.IsNotFound(err) {
		t.Fatalf("expected missing pipeline to surface, got %v", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("no transition may reach the API: %v", api.Calls())
	}
}
