package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// PipelineIntegrityRule keeps deals and pipelines consistent: a deal's stage
// must belong to its pipeline and match its status, and a pipeline may not
// drop stages or be deleted while deals still reference them.
func PipelineIntegrityRule() domain.Rule {
	return pipelineIntegrityRule{}
}

type pipelineIntegrityRule struct{}

func (pipelineIntegrityRule) Name() string { return "pipeline_integrity" }

func (r pipelineIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityDeal:
			if deal, ok := domain.DecodeSnapshot[domain.Deal](change.After); ok {
				r.checkDeal(&res, view, deal)
			}
		case domain.EntityPipeline:
			before, hadBefore := domain.DecodeSnapshot[domain.Pipeline](change.Before)
			if !hadBefore {
				continue
			}
			after, hasAfter := domain.DecodeSnapshot[domain.Pipeline](change.After)
			r.checkPipeline(&res, view, before, after, hasAfter)
		}
	}
	return res, nil
}

func (r pipelineIntegrityRule) checkDeal(res *domain.Result, view domain.RuleView, deal domain.Deal) {
	pipeline, ok := view.FindPipeline(deal.PipelineID)
	if !ok {
		res.Violations = append(res.Violations, dealViolation(deal.ID, fmt.Sprintf("deal %d references missing pipeline %d", deal.ID, deal.PipelineID)))
		return
	}
	stage, ok := pipeline.Stage(deal.StageID)
	if !ok {
		res.Violations = append(res.Violations, dealViolation(deal.ID, fmt.Sprintf("stage %d is not part of pipeline %d", deal.StageID, pipeline.ID)))
		return
	}
	want := map[domain.DealStatus]domain.StageKind{
		domain.DealOpen: domain.StageOpen,
		domain.DealWon:  domain.StageWon,
		domain.DealLost: domain.StageLost,
	}[deal.Status]
	if want != "" && stage.Kind != want {
		res.Violations = append(res.Violations, dealViolation(deal.ID,
			fmt.Sprintf("%s deal %d cannot sit in %s stage %q", deal.Status, deal.ID, stage.Kind, stage.Name)))
	}
}

func (r pipelineIntegrityRule) checkPipeline(res *domain.Result, view domain.RuleView, before, after domain.Pipeline, hasAfter bool) {
	for _, deal := range view.ListDeals() {
		if deal.PipelineID != before.ID {
			continue
		}
		if !hasAfter {
			res.Violations = append(res.Violations, pipelineViolation(before.ID,
				fmt.Sprintf("pipeline %d still has deals, e.g. deal %d", before.ID, deal.ID)))
			return
		}
		if _, ok := after.Stage(deal.StageID); !ok {
			res.Violations = append(res.Violations, pipelineViolation(before.ID,
				fmt.Sprintf("stage %d of pipeline %d is used by deal %d", deal.StageID, before.ID, deal.ID)))
		}
	}
}

func dealViolation(id domain.EntityID, message string) domain.Violation {
	return domain.Violation{Rule: "pipeline_integrity", Severity: domain.SeverityBlock, Message: message, Entity: domain.EntityDeal, EntityID: id}
}

func pipelineViolation(id domain.EntityID, message string) domain.Violation {
	return domain.Violation{Rule: "pipeline_integrity", Severity: domain.SeverityBlock, Message: message, Entity: domain.EntityPipeline, EntityID: id}
}
