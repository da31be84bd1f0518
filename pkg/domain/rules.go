package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Action indicates the type of modification performed.
type Action string

// Change actions recorded by persistence backends.
const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionTransition Action = "transition"
)

// Change captures a record's state before and after a mutation as JSON
// snapshots. Before is empty on create and After is empty on delete.
type Change struct {
	Entity EntityType
	Action Action
	ID     EntityID
	Before json.RawMessage
	After  json.RawMessage
}

// NewChange marshals before/after snapshots. Nil values are left empty.
func NewChange[T any](entity EntityType, action Action, id EntityID, before, after *T) (Change, error) {
	ch := Change{Entity: entity, Action: action, ID: id}
	if before != nil {
		raw, err := json.Marshal(before)
		if err != nil {
			return Change{}, err
		}
		ch.Before = raw
	}
	if after != nil {
		raw, err := json.Marshal(after)
		if err != nil {
			return Change{}, err
		}
		ch.After = raw
	}
	return ch, nil
}

// DecodeSnapshot unmarshals a change snapshot into T.
func DecodeSnapshot[T any](raw json.RawMessage) (T, bool) {
	var out T
	if len(raw) == 0 {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities.
const (
	// SeverityBlock rejects the mutation.
	SeverityBlock Severity = "block"
	// SeverityWarn allows the mutation but is reported.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID EntityID
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// BlockingError converts blocking violations into a validation APIError.
func (r Result) BlockingError(entity EntityType, id EntityID) error {
	var msgs []string
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return &APIError{
		Kind:    ErrValidation,
		Entity:  entity,
		ID:      id,
		Message: strings.Join(msgs, "; "),
		Err:     RuleViolationError{Result: r},
	}
}

// RuleViolationError is wrapped by validation errors produced from rule results.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return fmt.Sprintf("mutation blocked by %d rule violation(s)", len(e.Result.Violations))
}

// RuleView provides read-only access to records for rule evaluation.
type RuleView interface {
	FindDeal(id EntityID) (Deal, bool)
	FindPipeline(id EntityID) (Pipeline, bool)
	ListDeals() []Deal
}

// Rule defines an evaluation executed before a mutation commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance with the given rules.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	return &RulesEngine{rules: rules}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
