package memory

import (
	"slices"
	"sort"
	"time"

	"crmcore/pkg/domain"
)

type state struct {
	contacts   map[domain.EntityID]domain.Contact
	companies  map[domain.EntityID]domain.Company
	activities map[domain.EntityID]domain.Activity
	pipelines  map[domain.EntityID]domain.Pipeline
	deals      map[domain.EntityID]domain.Deal
	nextID     domain.EntityID
	nextStage  domain.EntityID
}

// Snapshot is a point-in-time copy of the backend state, suitable for
// persisting and restoring.
type Snapshot struct {
	Contacts    map[domain.EntityID]domain.Contact  `json:"contacts"`
	Companies   map[domain.EntityID]domain.Company  `json:"companies"`
	Activities  map[domain.EntityID]domain.Activity `json:"activities"`
	Pipelines   map[domain.EntityID]domain.Pipeline `json:"pipelines"`
	Deals       map[domain.EntityID]domain.Deal     `json:"deals"`
	NextID      domain.EntityID                     `json:"next_id"`
	NextStageID domain.EntityID                     `json:"next_stage_id"`
}

func newState() state {
	return state{
		contacts:   make(map[domain.EntityID]domain.Contact),
		companies:  make(map[domain.EntityID]domain.Company),
		activities: make(map[domain.EntityID]domain.Activity),
		pipelines:  make(map[domain.EntityID]domain.Pipeline),
		deals:      make(map[domain.EntityID]domain.Deal),
		nextID:     1,
		nextStage:  1,
	}
}

func (s state) clone() state {
	return state{
		contacts:   cloneMap(s.contacts, cloneContact),
		companies:  cloneMap(s.companies, cloneCompany),
		activities: cloneMap(s.activities, cloneActivity),
		pipelines:  cloneMap(s.pipelines, clonePipeline),
		deals:      cloneMap(s.deals, cloneDeal),
		nextID:     s.nextID,
		nextStage:  s.nextStage,
	}
}

func (s state) snapshot() Snapshot {
	c := s.clone()
	return Snapshot{
		Contacts:    c.contacts,
		Companies:   c.companies,
		Activities:  c.activities,
		Pipelines:   c.pipelines,
		Deals:       c.deals,
		NextID:      c.nextID,
		NextStageID: c.nextStage,
	}
}

// stateFromSnapshot restores a snapshot. Missing maps are allocated and the
// id counters are raised past every stored id so restored data never collides
// with new records.
func stateFromSnapshot(snap Snapshot) state {
	st := newState()
	st.contacts = cloneMap(snap.Contacts, cloneContact)
	st.companies = cloneMap(snap.Companies, cloneCompany)
	st.activities = cloneMap(snap.Activities, cloneActivity)
	st.pipelines = cloneMap(snap.Pipelines, clonePipeline)
	st.deals = cloneMap(snap.Deals, cloneDeal)
	st.nextID = max(snap.NextID, 1)
	st.nextStage = max(snap.NextStageID, 1)
	raise := func(id domain.EntityID) {
		if id >= st.nextID {
			st.nextID = id + 1
		}
	}
	for id := range st.contacts {
		raise(id)
	}
	for id := range st.companies {
		raise(id)
	}
	for id := range st.activities {
		raise(id)
	}
	for id := range st.deals {
		raise(id)
	}
	for id, p := range st.pipelines {
		raise(id)
		for _, stage := range p.Stages {
			if stage.ID >= st.nextStage {
				st.nextStage = stage.ID + 1
			}
		}
	}
	return st
}

// FindDeal implements domain.RuleView.
func (s *state) FindDeal(id domain.EntityID) (domain.Deal, bool) {
	d, ok := s.deals[id]
	return cloneDeal(d), ok
}

// FindPipeline implements domain.RuleView.
func (s *state) FindPipeline(id domain.EntityID) (domain.Pipeline, bool) {
	p, ok := s.pipelines[id]
	return clonePipeline(p), ok
}

// ListDeals implements domain.RuleView.
func (s *state) ListDeals() []domain.Deal {
	out := make([]domain.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, cloneDeal(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneMap[T any](in map[domain.EntityID]T, clone func(T) T) map[domain.EntityID]T {
	out := make(map[domain.EntityID]T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneContact(c domain.Contact) domain.Contact {
	c.CompanyID = clonePtr(c.CompanyID)
	c.OwnerID = clonePtr(c.OwnerID)
	c.Tags = slices.Clone(c.Tags)
	return c
}

func cloneCompany(c domain.Company) domain.Company {
	c.OwnerID = clonePtr(c.OwnerID)
	return c
}

func cloneActivity(a domain.Activity) domain.Activity {
	a.DueAt = clonePtr(a.DueAt)
	a.OwnerID = clonePtr(a.OwnerID)
	a.ContactID = clonePtr(a.ContactID)
	a.CompanyID = clonePtr(a.CompanyID)
	a.DealID = clonePtr(a.DealID)
	return a
}

func clonePipeline(p domain.Pipeline) domain.Pipeline {
	p.Stages = slices.Clone(p.Stages)
	return p
}

func cloneDeal(d domain.Deal) domain.Deal {
	d.PreviousStageID = clonePtr(d.PreviousStageID)
	d.ContactID = clonePtr(d.ContactID)
	d.CompanyID = clonePtr(d.CompanyID)
	d.OwnerID = clonePtr(d.OwnerID)
	d.ExpectedCloseAt = clonePtr(d.ExpectedCloseAt)
	d.ClosedAt = clonePtr(d.ClosedAt)
	return d
}

func timePtr(t time.Time) *time.Time { return &t }
