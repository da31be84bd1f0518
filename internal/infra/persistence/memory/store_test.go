package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewStore(core.NewDefaultRulesEngine(), opts...)
}

func seedPipeline(t *testing.T, s *Store) domain.Pipeline {
	t.Helper()
	p, err := s.Pipelines().Create(context.Background(), domain.Pipeline{
		Name:   "Sales",
		Active: true,
		Stages: domain.NewPipelineStages("Qualify", "Proposal"),
	})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	return p
}

func seedDeal(t *testing.T, s *Store, p domain.Pipeline) domain.Deal {
	t.Helper()
	d, err := s.Deals().Create(context.Background(), domain.Deal{Title: "Renewal", Value: 1200, PipelineID: p.ID})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}

func TestCreateAssignsIdentityAndDefaults(t *testing.T) {
	s := newTestStore(t)
	c, err := s.Contacts().Create(context.Background(), domain.Contact{FirstName: " Ada ", Email: "ADA@example.com"})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if c.ID == 0 || c.Version != 1 {
		t.Fatalf("expected id and version 1, got %+v", c.Base)
	}
	if !c.CreatedAt.Equal(fixedNow) || !c.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("expected timestamps from clock, got %v/%v", c.CreatedAt, c.UpdatedAt)
	}
	if c.Status != domain.ContactStatusLead || c.FirstName != "Ada" || c.Email != "ada@example.com" {
		t.Fatalf("expected normalized contact, got %+v", c)
	}
}

func TestCreateRejectsInvalidRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	missing := domain.EntityID(404)
	cases := map[string]func() error{
		"contact without name": func() error {
			_, err := s.Contacts().Create(ctx, domain.Contact{})
			return err
		},
		"contact with bad email": func() error {
			_, err := s.Contacts().Create(ctx, domain.Contact{FirstName: "A", Email: "nope"})
			return err
		},
		"contact with unknown company": func() error {
			_, err := s.Contacts().Create(ctx, domain.Contact{FirstName: "A", CompanyID: &missing})
			return err
		},
		"company without name": func() error {
			_, err := s.Companies().Create(ctx, domain.Company{})
			return err
		},
		"activity with bad kind": func() error {
			_, err := s.Activities().Create(ctx, domain.Activity{Kind: "fax", Subject: "x"})
			return err
		},
		"pipeline without won stage": func() error {
			_, err := s.Pipelines().Create(ctx, domain.Pipeline{Name: "p", Stages: []domain.Stage{{Name: "a", Kind: domain.StageOpen}}})
			return err
		},
		"deal without pipeline": func() error {
			_, err := s.Deals().Create(ctx, domain.Deal{Title: "d", PipelineID: missing})
			return err
		},
		"deal with negative value": func() error {
			_, err := s.Deals().Create(ctx, domain.Deal{Title: "d", Value: -1})
			return err
		},
	}
	for name, run := range cases {
		if err := run(); !domain.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestUpdateEnforcesVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	api := s.Companies()
	c, err := api.Create(ctx, domain.Company{Name: "Acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Industry = "Tools"
	updated, err := api.Update(ctx, c.ID, c)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 || updated.Industry != "Tools" {
		t.Fatalf("expected version 2 with change, got %+v", updated)
	}
	if _, err := api.Update(ctx, c.ID, c); !domain.IsConflict(err) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
	if _, err := api.Update(ctx, 999, updated); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _ := s.Companies().Create(ctx, domain.Company{Name: "Acme"})
	if err := s.Companies().Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Companies().Get(ctx, c.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.Companies().Delete(ctx, c.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListFiltersSortsAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Acme", "Globex", "Initech"} {
		if _, err := s.Companies().Create(ctx, domain.Company{Name: name, Industry: "Tools"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.Companies().Create(ctx, domain.Company{Name: "Hooli", Industry: "Search"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := s.Companies().List(ctx, domain.SearchCriteria{"industry": "Tools"}, domain.Page{Number: 2, Size: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 1 || res.Items[0].Name != "Initech" {
		t.Fatalf("unexpected page: %+v", res)
	}
}

func TestBulkUpdateIsAtomicAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Contacts().Create(ctx, domain.Contact{FirstName: "A"})
	b, _ := s.Contacts().Create(ctx, domain.Contact{FirstName: "B"})

	update := domain.SetContactStatus{Status: domain.ContactStatusActive}
	if _, err := s.Contacts().BulkUpdate(ctx, "req-1", []domain.EntityID{a.ID, 999}, update); !domain.IsNotFound(err) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}
	got, _ := s.Contacts().Get(ctx, a.ID)
	if got.Status != domain.ContactStatusLead || got.Version != 1 {
		t.Fatalf("expected failed batch to leave records untouched, got %+v", got)
	}

	n, err := s.Contacts().BulkUpdate(ctx, "req-2", []domain.EntityID{a.ID, b.ID, a.ID}, update)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 updated, got %d, %v", n, err)
	}
	got, _ = s.Contacts().Get(ctx, b.ID)
	if got.Status != domain.ContactStatusActive || got.Version != 2 {
		t.Fatalf("expected status active at version 2, got %+v", got)
	}

	n, err = s.Contacts().BulkUpdate(ctx, "req-2", []domain.EntityID{a.ID, b.ID}, update)
	if err != nil || n != 2 {
		t.Fatalf("expected replay to report 2, got %d, %v", n, err)
	}
	got, _ = s.Contacts().Get(ctx, b.ID)
	if got.Version != 2 {
		t.Fatalf("expected replay not to reapply, got version %d", got.Version)
	}
}

func TestBulkDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Companies().Create(ctx, domain.Company{Name: "A"})
	b, _ := s.Companies().Create(ctx, domain.Company{Name: "B"})
	n, err := s.Companies().BulkDelete(ctx, "del-1", []domain.EntityID{a.ID, b.ID})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d, %v", n, err)
	}
	res, _ := s.Companies().List(ctx, nil, domain.Page{})
	if res.Total != 0 {
		t.Fatalf("expected no companies left, got %d", res.Total)
	}
}

func TestDealCreateDefaults(t *testing.T) {
	s := newTestStore(t)
	p := seedPipeline(t, s)
	d := seedDeal(t, s, p)
	first, _ := p.FirstOpenStage()
	if d.Status != domain.DealOpen || d.StageID != first.ID || d.Currency != DefaultCurrency {
		t.Fatalf("unexpected deal defaults: %+v", d)
	}
}

func TestDealUpdateCannotChangeLifecycleFields(t *testing.T) {
	s := newTestStore(t)
	p := seedPipeline(t, s)
	d := seedDeal(t, s, p)
	d.Status = domain.DealWon
	_, err := s.Deals().Update(context.Background(), d.ID, d)
	if !domain.IsValidation(err) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation cause, got %v", err)
	}
}

func TestDealTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPipeline(t, s)
	d := seedDeal(t, s, p)
	proposal := p.Stages[1]

	plan, err := domain.PlanDealTransition(d, p, domain.TransitionMoveStage, proposal.ID, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	moved, err := s.Deals().Transition(ctx, d.ID, plan)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.StageID != proposal.ID || moved.Version != 2 {
		t.Fatalf("unexpected moved deal: %+v", moved)
	}

	plan, _ = domain.PlanDealTransition(moved, p, domain.TransitionCloseLost, 0, "budget")
	lost, err := s.Deals().Transition(ctx, d.ID, plan)
	if err != nil {
		t.Fatalf("close lost: %v", err)
	}
	if lost.Status != domain.DealLost || lost.LostReason != "budget" || lost.ClosedAt == nil {
		t.Fatalf("unexpected lost deal: %+v", lost)
	}
	if lost.PreviousStageID == nil || *lost.PreviousStageID != proposal.ID {
		t.Fatalf("expected previous stage %d, got %v", proposal.ID, lost.PreviousStageID)
	}

	if _, err := s.Deals().Transition(ctx, d.ID, plan); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on stale transition, got %v", err)
	}

	plan, _ = domain.PlanDealTransition(lost, p, domain.TransitionReopen, 0, "")
	reopened, err := s.Deals().Transition(ctx, d.ID, plan)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.DealOpen || reopened.StageID != proposal.ID || reopened.ClosedAt != nil {
		t.Fatalf("expected reopen to previous stage, got %+v", reopened)
	}
}

func TestDealTransitionRejectsIllegalKind(t *testing.T) {
	s := newTestStore(t)
	p := seedPipeline(t, s)
	d := seedDeal(t, s, p)
	_, err := s.Deals().Transition(context.Background(), d.ID, domain.DealTransition{
		Kind: domain.TransitionReopen, Version: d.Version, Status: domain.DealOpen, StageID: d.StageID,
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transition error cause, got %v", err)
	}
}

func TestPipelineDeleteBlockedByDeals(t *testing.T) {
	s := newTestStore(t)
	p := seedPipeline(t, s)
	seedDeal(t, s, p)
	if err := s.Pipelines().Delete(context.Background(), p.ID); !domain.IsValidation(err) {
		t.Fatalf("expected pipeline delete to be blocked, got %v", err)
	}
}

func TestCommitHookAbortsAndSeesSnapshot(t *testing.T) {
	var seen []Snapshot
	fail := false
	s := newTestStore(t, WithCommitHook(func(_ context.Context, snap Snapshot) error {
		if fail {
			return errors.New("disk full")
		}
		seen = append(seen, snap)
		return nil
	}))
	ctx := context.Background()
	if _, err := s.Companies().Create(ctx, domain.Company{Name: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(seen) != 1 || len(seen[0].Companies) != 1 {
		t.Fatalf("expected one snapshot with one company, got %+v", seen)
	}
	fail = true
	_, err := s.Companies().Create(ctx, domain.Company{Name: "Globex"})
	if domain.KindOf(err) != domain.ErrTransport {
		t.Fatalf("expected transport error from hook, got %v", err)
	}
	if got := len(s.ExportState().Companies); got != 1 {
		t.Fatalf("expected aborted commit to leave 1 company, got %d", got)
	}
}

func TestReadOnlyAndCancelled(t *testing.T) {
	s := newTestStore(t, WithReadOnly())
	if _, err := s.Companies().Create(context.Background(), domain.Company{Name: "A"}); !domain.IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Companies().Get(ctx, 1); domain.KindOf(err) != domain.ErrTransport {
		t.Fatalf("expected transport error for cancelled context, got %v", err)
	}
}

func TestImportStateRaisesCounters(t *testing.T) {
	s := newTestStore(t)
	s.ImportState(Snapshot{
		Companies: map[domain.EntityID]domain.Company{
			41: {Base: domain.Base{ID: 41, Version: 3}, Name: "Old"},
		},
	})
	c, err := s.Companies().Create(context.Background(), domain.Company{Name: "New"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID != 42 {
		t.Fatalf("expected id 42 after import, got %d", c.ID)
	}
}

func TestSnapshotBucketsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := seedPipeline(t, s)
	seedDeal(t, s, p)

	encoded, err := s.ExportState().EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var restored Snapshot
	for _, name := range SnapshotBuckets {
		if err := restored.DecodeBucket(name, encoded[name]); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	if err := restored.DecodeBucket("legacy", []byte("{")); err != nil {
		t.Fatalf("expected unknown bucket to be ignored, got %v", err)
	}
	if len(restored.Deals) != 1 || len(restored.Pipelines) != 1 || restored.NextStageID != 5 {
		t.Fatalf("unexpected restored snapshot: %+v", restored)
	}
	if err := restored.DecodeBucket("deals", []byte("not json")); err == nil {
		t.Fatalf("expected decode error for corrupt bucket")
	}
}
