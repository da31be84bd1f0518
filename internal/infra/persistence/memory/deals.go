package memory

import (
	"context"
	"errors"

	"crmcore/pkg/domain"
)

type dealAPI struct {
	table[domain.Deal, *domain.Deal]
}

// Transition re-plans the submitted transition against the stored deal and
// pipeline and applies it when both agree. A plan that differs from the
// submitted one means the pipeline or deal changed underneath the caller.
func (a dealAPI) Transition(ctx context.Context, id domain.EntityID, transition domain.DealTransition) (domain.Deal, error) {
	var out domain.Deal
	_, err := a.store.runInTransaction(ctx, domain.EntityDeal, func(t *tx) error {
		before, ok := t.state.deals[id]
		if !ok {
			return domain.NewNotFoundError(domain.EntityDeal, id)
		}
		if transition.Version != before.Version {
			return domain.NewConflictError(domain.EntityDeal, id, transition.Version, before.Version)
		}
		pipeline, ok := t.state.pipelines[before.PipelineID]
		if !ok {
			return &domain.APIError{Kind: domain.ErrValidation, Entity: domain.EntityDeal, ID: id, Message: "pipeline no longer exists"}
		}
		plan, err := domain.PlanDealTransition(before, pipeline, transition.Kind, transition.StageID, transition.LostReason)
		if err != nil {
			var te *domain.TransitionError
			if errors.As(err, &te) {
				return &domain.APIError{Kind: domain.ErrValidation, Entity: domain.EntityDeal, ID: id, Message: te.Reason, Err: err}
			}
			return err
		}
		if plan.Status != transition.Status || plan.StageID != transition.StageID {
			return &domain.APIError{
				Kind:    domain.ErrConflict,
				Entity:  domain.EntityDeal,
				ID:      id,
				Message: "pipeline stages changed; reload the deal",
			}
		}

		after := domain.ApplyDealTransition(cloneDeal(before), plan)
		if plan.Kind == domain.TransitionCloseWon || plan.Kind == domain.TransitionCloseLost {
			after.ClosedAt = timePtr(t.now)
		}
		after.Version = before.Version + 1
		after.UpdatedAt = t.now
		t.state.deals[id] = after

		change, err := domain.NewChange(domain.EntityDeal, domain.ActionTransition, id, &before, &after)
		if err != nil {
			return err
		}
		t.record(change)
		out = cloneDeal(after)
		return nil
	})
	return out, err
}
