package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// DealController is the deal entity store plus lifecycle transitions. Every
// transition is validated against the deal lifecycle machine before any
// remote call and otherwise follows the Update protocol: tracked in flight,
// cache reconciled and notified on success, notified and returned on failure.
type DealController struct {
	*EntityStore[domain.Deal]
	deals     DealAPI
	pipelines PipelineReader
}

// NewDealController constructs the deal store. pipelines resolves the deal's
// pipeline when planning transitions; the pipeline EntityStore satisfies it.
func NewDealController(api DealAPI, pipelines PipelineReader, cache Cache, notifier Notifier, opts ...Option) *DealController {
	return &DealController{
		EntityStore: NewEntityStore[domain.Deal](domain.EntityDeal, api, cache, notifier, opts...),
		deals:       api,
		pipelines:   pipelines,
	}
}

// MoveStage moves an open deal to another open stage of its pipeline.
func (c *DealController) MoveStage(ctx context.Context, deal domain.Deal, stageID domain.EntityID, then func(domain.Deal)) (domain.Deal, error) {
	return c.transition(ctx, deal, domain.TransitionMoveStage, stageID, "", then)
}

// CloseWon closes an open deal as won.
func (c *DealController) CloseWon(ctx context.Context, deal domain.Deal, then func(domain.Deal)) (domain.Deal, error) {
	return c.transition(ctx, deal, domain.TransitionCloseWon, 0, "", then)
}

// CloseLost closes an open deal as lost with an optional reason.
func (c *DealController) CloseLost(ctx context.Context, deal domain.Deal, reason string, then func(domain.Deal)) (domain.Deal, error) {
	return c.transition(ctx, deal, domain.TransitionCloseLost, 0, reason, then)
}

// Reopen returns a won or lost deal to OPEN.
func (c *DealController) Reopen(ctx context.Context, deal domain.Deal, then func(domain.Deal)) (domain.Deal, error) {
	return c.transition(ctx, deal, domain.TransitionReopen, 0, "", then)
}

var transitionVerbs = map[domain.TransitionKind]struct{ action, done string }{
	domain.TransitionMoveStage: {"move", "moved"},
	domain.TransitionCloseWon:  {"close as won", "marked as won"},
	domain.TransitionCloseLost: {"close as lost", "marked as lost"},
	domain.TransitionReopen:    {"reopen", "reopened"},
}

func (c *DealController) transition(ctx context.Context, deal domain.Deal, kind domain.TransitionKind, stageID domain.EntityID, reason string, then func(domain.Deal)) (domain.Deal, error) {
	verbs := transitionVerbs[kind]
	op := newOperation(domain.EntityDeal, MutationTransition, string(kind), verbs.done)
	op.action = verbs.action

	if err := domain.CheckTransition(deal, kind); err != nil {
		c.cfg.logger.Debug("deal transition rejected", "deal", deal.ID, "status", deal.Status, "transition", kind)
		c.notifier.Error(failureMessage(domain.EntityDeal, op.action, err))
		return domain.Deal{}, err
	}
	if deal.Version <= 0 {
		err := domain.NewValidationError(domain.EntityDeal, "the current version is required")
		c.notifier.Error(failureMessage(domain.EntityDeal, op.action, err))
		return domain.Deal{}, err
	}

	var stageName string
	updated, err := c.mutate(ctx, op, deal.ID, func(ctx context.Context) (domain.Deal, error) {
		pipeline, err := c.pipelines.Get(ctx, deal.PipelineID)
		if err != nil {
			return domain.Deal{}, fmt.Errorf("load pipeline %d: %w", deal.PipelineID, err)
		}
		plan, err := domain.PlanDealTransition(deal, pipeline, kind, stageID, reason)
		if err != nil {
			return domain.Deal{}, err
		}
		if st, ok := pipeline.Stage(plan.StageID); ok {
			stageName = st.Name
		}
		return c.deals.Transition(ctx, deal.ID, plan)
	})
	if err != nil {
		return domain.Deal{}, err
	}
	c.cfg.logger.Info("deal transitioned", "deal", deal.ID, "transition", kind, "status", updated.Status, "stage", stageName, "version", updated.Version)
	if then != nil {
		then(updated)
	}
	return updated, nil
}
