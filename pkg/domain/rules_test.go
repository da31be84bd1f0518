package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	if result.BlockingError(EntityDeal, 1) != nil {
		t.Fatalf("warnings must not produce an error")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "stage missing"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := result.BlockingError(EntityDeal, 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrValidation || apiErr.Message != "stage missing" {
		t.Fatalf("unexpected blocking error %v", err)
	}
	var ruleErr RuleViolationError
	if !errors.As(err, &ruleErr) || len(ruleErr.Result.Violations) != 2 {
		t.Fatalf("blocking error must wrap the rule result")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) FindDeal(EntityID) (Deal, bool)         { return Deal{}, false }
func (emptyView) FindPipeline(EntityID) (Pipeline, bool) { return Pipeline{}, false }
func (emptyView) ListDeals() []Deal                      { return nil }

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestChangeSnapshots(t *testing.T) {
	after := Contact{Base: Base{ID: 4}, FirstName: "Ada"}
	ch, err := NewChange[Contact](EntityContact, ActionCreate, 4, nil, &after)
	if err != nil {
		t.Fatalf("new change: %v", err)
	}
	if len(ch.Before) != 0 {
		t.Fatalf("create has no before snapshot")
	}
	if _, ok := DecodeSnapshot[Contact](ch.Before); ok {
		t.Fatalf("empty snapshot must not decode")
	}
	got, ok := DecodeSnapshot[Contact](ch.After)
	if !ok || got.FirstName != "Ada" || got.ID != 4 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}
