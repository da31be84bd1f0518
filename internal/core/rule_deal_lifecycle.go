package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// DealLifecycleRule blocks deal status changes that bypass the lifecycle
// machine. Plain updates may not touch status or stage; transitions must be
// legal for the stored status.
func DealLifecycleRule() domain.Rule {
	return dealLifecycleRule{}
}

type dealLifecycleRule struct{}

var validDealStatuses = map[domain.DealStatus]struct{}{
	domain.DealOpen: {},
	domain.DealWon:  {},
	domain.DealLost: {},
}

// dealReachable lists, per stored status, the statuses a transition may produce.
var dealReachable = map[domain.DealStatus]map[domain.DealStatus]struct{}{
	domain.DealOpen: {domain.DealOpen: {}, domain.DealWon: {}, domain.DealLost: {}},
	domain.DealWon:  {domain.DealOpen: {}},
	domain.DealLost: {domain.DealOpen: {}},
}

func (dealLifecycleRule) Name() string { return "deal_lifecycle" }

func (r dealLifecycleRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityDeal {
			continue
		}
		after, ok := domain.DecodeSnapshot[domain.Deal](change.After)
		if !ok {
			continue
		}
		if _, valid := validDealStatuses[after.Status]; !valid {
			res.Violations = append(res.Violations, r.violation(after.ID, fmt.Sprintf("deal %d has invalid status %q", after.ID, after.Status)))
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if after.Status != domain.DealOpen {
				res.Violations = append(res.Violations, r.violation(after.ID, "deals are created open"))
			}
		case domain.ActionUpdate:
			before, ok := domain.DecodeSnapshot[domain.Deal](change.Before)
			if !ok {
				continue
			}
			if before.Status != after.Status || before.StageID != after.StageID {
				res.Violations = append(res.Violations, r.violation(after.ID,
					fmt.Sprintf("deal %d status and stage change only through lifecycle transitions", after.ID)))
			}
		case domain.ActionTransition:
			before, ok := domain.DecodeSnapshot[domain.Deal](change.Before)
			if !ok {
				continue
			}
			if _, ok := dealReachable[before.Status][after.Status]; !ok {
				res.Violations = append(res.Violations, r.violation(after.ID,
					fmt.Sprintf("cannot move deal %d from %s to %s", after.ID, before.Status, after.Status)))
			}
		}
	}
	return res, nil
}

func (dealLifecycleRule) violation(id domain.EntityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "deal_lifecycle",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityDeal,
		EntityID: id,
	}
}
