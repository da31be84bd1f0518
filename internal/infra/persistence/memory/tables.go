package memory

import (
	"strings"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

// DefaultCurrency is applied to deals created without a currency.
const DefaultCurrency = "USD"

// Contacts returns the contact entity API.
func (s *Store) Contacts() core.EntityAPI[domain.Contact] {
	return table[domain.Contact, *domain.Contact]{
		store:   s,
		entity:  domain.EntityContact,
		rows:    func(st *state) map[domain.EntityID]domain.Contact { return st.contacts },
		clone:   cloneContact,
		prepare: prepareContact,
	}
}

// Companies returns the company entity API.
func (s *Store) Companies() core.EntityAPI[domain.Company] {
	return table[domain.Company, *domain.Company]{
		store:   s,
		entity:  domain.EntityCompany,
		rows:    func(st *state) map[domain.EntityID]domain.Company { return st.companies },
		clone:   cloneCompany,
		prepare: prepareCompany,
	}
}

// Activities returns the activity entity API.
func (s *Store) Activities() core.EntityAPI[domain.Activity] {
	return table[domain.Activity, *domain.Activity]{
		store:   s,
		entity:  domain.EntityActivity,
		rows:    func(st *state) map[domain.EntityID]domain.Activity { return st.activities },
		clone:   cloneActivity,
		prepare: prepareActivity,
	}
}

// Pipelines returns the pipeline entity API.
func (s *Store) Pipelines() core.EntityAPI[domain.Pipeline] {
	return table[domain.Pipeline, *domain.Pipeline]{
		store:   s,
		entity:  domain.EntityPipeline,
		rows:    func(st *state) map[domain.EntityID]domain.Pipeline { return st.pipelines },
		clone:   clonePipeline,
		prepare: preparePipeline,
	}
}

// Deals returns the deal entity API including lifecycle transitions.
func (s *Store) Deals() core.DealAPI {
	return dealAPI{table: table[domain.Deal, *domain.Deal]{
		store:   s,
		entity:  domain.EntityDeal,
		rows:    func(st *state) map[domain.EntityID]domain.Deal { return st.deals },
		clone:   cloneDeal,
		prepare: prepareDeal,
	}}
}

func prepareContact(t *tx, c *domain.Contact, _ *domain.Contact) error {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.FirstName == "" && c.LastName == "" && c.Email == "" {
		return domain.NewValidationError(domain.EntityContact, "a name or email is required")
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return domain.NewValidationError(domain.EntityContact, "email %q is invalid", c.Email)
	}
	if c.Status == "" {
		c.Status = domain.ContactStatusLead
	}
	if !c.Status.Valid() {
		return domain.NewValidationError(domain.EntityContact, "status %q is invalid", c.Status)
	}
	if c.CompanyID != nil {
		if _, ok := t.state.companies[*c.CompanyID]; !ok {
			return domain.NewValidationError(domain.EntityContact, "company %d does not exist", *c.CompanyID)
		}
	}
	return nil
}

func prepareCompany(_ *tx, c *domain.Company, _ *domain.Company) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	if c.Name == "" {
		return domain.NewValidationError(domain.EntityCompany, "name is required")
	}
	if c.Employees < 0 {
		return domain.NewValidationError(domain.EntityCompany, "employees cannot be negative")
	}
	return nil
}

func prepareActivity(t *tx, a *domain.Activity, _ *domain.Activity) error {
	a.Subject = strings.TrimSpace(a.Subject)
	if !a.Kind.Valid() {
		return domain.NewValidationError(domain.EntityActivity, "kind %q is invalid", a.Kind)
	}
	if a.Subject == "" {
		return domain.NewValidationError(domain.EntityActivity, "subject is required")
	}
	if a.ContactID != nil {
		if _, ok := t.state.contacts[*a.ContactID]; !ok {
			return domain.NewValidationError(domain.EntityActivity, "contact %d does not exist", *a.ContactID)
		}
	}
	if a.CompanyID != nil {
		if _, ok := t.state.companies[*a.CompanyID]; !ok {
			return domain.NewValidationError(domain.EntityActivity, "company %d does not exist", *a.CompanyID)
		}
	}
	if a.DealID != nil {
		if _, ok := t.state.deals[*a.DealID]; !ok {
			return domain.NewValidationError(domain.EntityActivity, "deal %d does not exist", *a.DealID)
		}
	}
	return nil
}

func preparePipeline(t *tx, p *domain.Pipeline, _ *domain.Pipeline) error {
	p.Name = strings.TrimSpace(p.Name)
	for i := range p.Stages {
		if p.Stages[i].ID == 0 {
			p.Stages[i].ID = t.allocateStageID()
		}
	}
	return p.Validate()
}

func prepareDeal(t *tx, d *domain.Deal, before *domain.Deal) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return domain.NewValidationError(domain.EntityDeal, "title is required")
	}
	if d.Value < 0 {
		return domain.NewValidationError(domain.EntityDeal, "value cannot be negative")
	}
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if d.Currency == "" {
		d.Currency = DefaultCurrency
	}
	if len(d.Currency) != 3 {
		return domain.NewValidationError(domain.EntityDeal, "currency %q is not an ISO 4217 code", d.Currency)
	}
	pipeline, ok := t.state.pipelines[d.PipelineID]
	if !ok {
		return domain.NewValidationError(domain.EntityDeal, "pipeline %d does not exist", d.PipelineID)
	}
	if before == nil {
		if d.Status == "" {
			d.Status = domain.DealOpen
		}
		if d.StageID == 0 {
			if st, ok := pipeline.FirstOpenStage(); ok {
				d.StageID = st.ID
			}
		}
		d.PreviousStageID, d.LostReason, d.ClosedAt = nil, "", nil
	} else {
		// lifecycle fields only change through Transition
		d.PreviousStageID = clonePtr(before.PreviousStageID)
		d.LostReason = before.LostReason
		d.ClosedAt = clonePtr(before.ClosedAt)
	}
	if d.ContactID != nil {
		if _, ok := t.state.contacts[*d.ContactID]; !ok {
			return domain.NewValidationError(domain.EntityDeal, "contact %d does not exist", *d.ContactID)
		}
	}
	if d.CompanyID != nil {
		if _, ok := t.state.companies[*d.CompanyID]; !ok {
			return domain.NewValidationError(domain.EntityDeal, "company %d does not exist", *d.CompanyID)
		}
	}
	return nil
}
