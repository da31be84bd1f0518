package domain

import (
	"fmt"
	"sort"
)

// TransitionKind names a deal lifecycle transition.
type TransitionKind string

// Deal lifecycle transitions.
const (
	TransitionMoveStage TransitionKind = "move_stage"
	TransitionCloseWon  TransitionKind = "close_won"
	TransitionCloseLost TransitionKind = "close_lost"
	TransitionReopen    TransitionKind = "reopen"
)

// DealTransition is the fully planned transition submitted to the entity API.
// It always carries the version the caller observed.
type DealTransition struct {
	Kind            TransitionKind `json:"kind"`
	Version         int64          `json:"version"`
	Status          DealStatus     `json:"status"`
	StageID         EntityID       `json:"stage_id"`
	PreviousStageID *EntityID      `json:"previous_stage_id,omitempty"`
	LostReason      string         `json:"lost_reason,omitempty"`
}

type dealMachineEntry struct {
	from  map[DealStatus]struct{}
	to    DealStatus
	label string
}

var dealMachine = map[TransitionKind]dealMachineEntry{
	TransitionMoveStage: {from: statusSet(DealOpen), to: DealOpen, label: "move"},
	TransitionCloseWon:  {from: statusSet(DealOpen), to: DealWon, label: "close as won"},
	TransitionCloseLost: {from: statusSet(DealOpen), to: DealLost, label: "close as lost"},
	TransitionReopen:    {from: statusSet(DealWon, DealLost), to: DealOpen, label: "reopen"},
}

func statusSet(values ...DealStatus) map[DealStatus]struct{} {
	set := make(map[DealStatus]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// CanTransition reports whether kind is legal from status.
func CanTransition(status DealStatus, kind TransitionKind) bool {
	entry, ok := dealMachine[kind]
	if !ok {
		return false
	}
	_, ok = entry.from[status]
	return ok
}

// CheckTransition rejects kind when the deal's status does not allow it.
func CheckTransition(deal Deal, kind TransitionKind) error {
	entry, ok := dealMachine[kind]
	if !ok {
		return &TransitionError{DealID: deal.ID, From: deal.Status, Action: kind, Reason: "unknown transition"}
	}
	if _, ok := entry.from[deal.Status]; !ok {
		return &TransitionError{
			DealID: deal.ID,
			From:   deal.Status,
			Action: kind,
			Reason: fmt.Sprintf("%s is only allowed from %s", entry.label, describeStatuses(entry.from)),
		}
	}
	return nil
}

// PlanDealTransition validates kind against the deal's state and resolves the
// target status and stage using the deal's pipeline. stageID is only used by
// TransitionMoveStage; lostReason only by TransitionCloseLost.
func PlanDealTransition(deal Deal, pipeline Pipeline, kind TransitionKind, stageID EntityID, lostReason string) (DealTransition, error) {
	if err := CheckTransition(deal, kind); err != nil {
		return DealTransition{}, err
	}
	entry := dealMachine[kind]
	reject := func(format string, args ...any) (DealTransition, error) {
		return DealTransition{}, &TransitionError{DealID: deal.ID, From: deal.Status, Action: kind, Reason: fmt.Sprintf(format, args...)}
	}
	if pipeline.ID != deal.PipelineID {
		return reject("deal belongs to pipeline %d, not %d", deal.PipelineID, pipeline.ID)
	}
	plan := DealTransition{Kind: kind, Version: deal.Version, Status: entry.to}
	switch kind {
	case TransitionMoveStage:
		target, ok := pipeline.Stage(stageID)
		if !ok {
			return reject("stage %d is not part of pipeline %d", stageID, pipeline.ID)
		}
		if target.Kind != StageOpen {
			return reject("stage %d is a %s stage; close the deal instead", stageID, target.Kind)
		}
		if target.ID == deal.StageID {
			return reject("deal is already in stage %d", stageID)
		}
		plan.StageID = target.ID
	case TransitionCloseWon, TransitionCloseLost:
		stageKind := StageWon
		if kind == TransitionCloseLost {
			stageKind = StageLost
			plan.LostReason = lostReason
		}
		terminal, ok := pipeline.TerminalStage(stageKind)
		if !ok {
			return reject("pipeline %d has no %s stage", pipeline.ID, stageKind)
		}
		previous := deal.StageID
		plan.StageID = terminal.ID
		plan.PreviousStageID = &previous
	case TransitionReopen:
		target, ok := ReopenStage(deal, pipeline)
		if !ok {
			return reject("pipeline %d has no open stage", pipeline.ID)
		}
		plan.StageID = target.ID
	}
	return plan, nil
}

// ReopenStage resolves the stage a closed deal returns to: the stage it held
// before closing when that stage still exists as an open stage, otherwise the
// pipeline's first open stage.
func ReopenStage(deal Deal, pipeline Pipeline) (Stage, bool) {
	if deal.PreviousStageID != nil {
		if st, ok := pipeline.Stage(*deal.PreviousStageID); ok && st.Kind == StageOpen {
			return st, true
		}
	}
	return pipeline.FirstOpenStage()
}

// ApplyDealTransition returns deal with the planned status and stage applied.
// Version and timestamps are owned by the persistence layer.
func ApplyDealTransition(deal Deal, t DealTransition) Deal {
	out := deal
	out.Status = t.Status
	out.StageID = t.StageID
	switch t.Kind {
	case TransitionCloseWon, TransitionCloseLost:
		if t.PreviousStageID != nil {
			prev := *t.PreviousStageID
			out.PreviousStageID = &prev
		}
		out.LostReason = t.LostReason
	case TransitionReopen:
		out.PreviousStageID = nil
		out.LostReason = ""
		out.ClosedAt = nil
	}
	return out
}

func describeStatuses(set map[DealStatus]struct{}) string {
	names := make([]string, 0, len(set))
	for s := range set {
		names = append(names, string(s))
	}
	sort.Strings(names)
	if len(names) == 1 {
		return names[0]
	}
	out := names[0]
	for _, n := range names[1:] {
		out += " or " + n
	}
	return out
}

// Stage returns the stage with id.
func (p Pipeline) Stage(id EntityID) (Stage, bool) {
	for _, st := range p.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

// FirstOpenStage returns the open stage with the lowest position.
func (p Pipeline) FirstOpenStage() (Stage, bool) {
	var (
		first Stage
		found bool
	)
	for _, st := range p.Stages {
		if st.Kind != StageOpen {
			continue
		}
		if !found || st.Position < first.Position {
			first, found = st, true
		}
	}
	return first, found
}

// TerminalStage returns the designated won or lost stage.
func (p Pipeline) TerminalStage(kind StageKind) (Stage, bool) {
	for _, st := range p.Stages {
		if st.Kind == kind {
			return st, true
		}
	}
	return Stage{}, false
}

// Validate checks the pipeline has at least one open stage and exactly one won
// and one lost stage, with unique stage ids.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return NewValidationError(EntityPipeline, "name is required")
	}
	seen := make(map[EntityID]struct{}, len(p.Stages))
	counts := map[StageKind]int{}
	for _, st := range p.Stages {
		if _, dup := seen[st.ID]; dup && st.ID != 0 {
			return NewValidationError(EntityPipeline, "duplicate stage id %d", st.ID)
		}
		seen[st.ID] = struct{}{}
		switch st.Kind {
		case StageOpen, StageWon, StageLost:
			counts[st.Kind]++
		default:
			return NewValidationError(EntityPipeline, "stage %q has invalid kind %q", st.Name, st.Kind)
		}
	}
	if counts[StageOpen] == 0 {
		return NewValidationError(EntityPipeline, "at least one open stage is required")
	}
	if counts[StageWon] != 1 || counts[StageLost] != 1 {
		return NewValidationError(EntityPipeline, "exactly one won and one lost stage are required")
	}
	return nil
}

// NewPipelineStages builds stages for the named open steps followed by the
// won and lost terminal stages. Ids are left zero for the backend to assign.
func NewPipelineStages(open ...string) []Stage {
	stages := make([]Stage, 0, len(open)+2)
	for i, name := range open {
		stages = append(stages, Stage{Name: name, Position: i, Kind: StageOpen})
	}
	stages = append(stages,
		Stage{Name: "Won", Position: len(open), Kind: StageWon},
		Stage{Name: "Lost", Position: len(open) + 1, Kind: StageLost},
	)
	return stages
}
