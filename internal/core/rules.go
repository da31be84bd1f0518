package core

import "crmcore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// that embedded backends evaluate before committing a mutation.
func NewDefaultRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine(
		DealLifecycleRule(),
		PipelineIntegrityRule(),
	)
}
