package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BulkUpdate is a closed set of edits that can be applied to every record of
// type T in a selection. Each entity type has its own operations, so an edit
// that does not make sense for T cannot be constructed for a store of T.
type BulkUpdate[T any] interface {
	// Op names the operation on the wire.
	Op() string
	// Apply mutates the record in place.
	Apply(*T) error
	bulkUpdate()
}

// BulkEnvelope is the wire form of a bulk update.
type BulkEnvelope struct {
	Op     string          `json:"op"`
	Fields json.RawMessage `json:"fields"`
}

// EncodeBulkUpdate wraps an update in its wire envelope.
func EncodeBulkUpdate[T any](u BulkUpdate[T]) (BulkEnvelope, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return BulkEnvelope{}, err
	}
	return BulkEnvelope{Op: u.Op(), Fields: raw}, nil
}

// ContactBulkUpdate edits contacts in bulk.
type ContactBulkUpdate = BulkUpdate[Contact]

// SetContactStatus moves every selected contact to Status.
type SetContactStatus struct {
	Status ContactStatus `json:"status"`
}

func (SetContactStatus) Op() string { return "set_status" }
func (u SetContactStatus) Apply(c *Contact) error {
	if !u.Status.Valid() {
		return NewValidationError(EntityContact, "invalid status %q", u.Status)
	}
	c.Status = u.Status
	return nil
}
func (SetContactStatus) bulkUpdate() {}

// SetContactOwner reassigns every selected contact.
type SetContactOwner struct {
	OwnerID EntityID `json:"owner_id"`
}

func (SetContactOwner) Op() string { return "set_owner" }
func (u SetContactOwner) Apply(c *Contact) error {
	owner := u.OwnerID
	c.OwnerID = &owner
	return nil
}
func (SetContactOwner) bulkUpdate() {}

// TagContacts adds Tag to every selected contact.
type TagContacts struct {
	Tag string `json:"tag"`
}

func (TagContacts) Op() string { return "add_tag" }
func (u TagContacts) Apply(c *Contact) error {
	if u.Tag == "" {
		return NewValidationError(EntityContact, "tag is required")
	}
	for _, t := range c.Tags {
		if t == u.Tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, u.Tag)
	return nil
}
func (TagContacts) bulkUpdate() {}

// CompanyBulkUpdate edits companies in bulk.
type CompanyBulkUpdate = BulkUpdate[Company]

// SetCompanyOwner reassigns every selected company.
type SetCompanyOwner struct {
	OwnerID EntityID `json:"owner_id"`
}

func (SetCompanyOwner) Op() string { return "set_owner" }
func (u SetCompanyOwner) Apply(c *Company) error {
	owner := u.OwnerID
	c.OwnerID = &owner
	return nil
}
func (SetCompanyOwner) bulkUpdate() {}

// SetCompanyIndustry sets the industry of every selected company.
type SetCompanyIndustry struct {
	Industry string `json:"industry"`
}

func (SetCompanyIndustry) Op() string { return "set_industry" }
func (u SetCompanyIndustry) Apply(c *Company) error {
	c.Industry = u.Industry
	return nil
}
func (SetCompanyIndustry) bulkUpdate() {}

// DealBulkUpdate edits deals in bulk. Status and stage are deliberately absent:
// they only change through lifecycle transitions.
type DealBulkUpdate = BulkUpdate[Deal]

// SetDealOwner reassigns every selected deal.
type SetDealOwner struct {
	OwnerID EntityID `json:"owner_id"`
}

func (SetDealOwner) Op() string { return "set_owner" }
func (u SetDealOwner) Apply(d *Deal) error {
	owner := u.OwnerID
	d.OwnerID = &owner
	return nil
}
func (SetDealOwner) bulkUpdate() {}

// SetDealExpectedClose sets the expected close date of every selected deal.
type SetDealExpectedClose struct {
	ExpectedCloseAt time.Time `json:"expected_close_at"`
}

func (SetDealExpectedClose) Op() string { return "set_expected_close" }
func (u SetDealExpectedClose) Apply(d *Deal) error {
	at := u.ExpectedCloseAt
	d.ExpectedCloseAt = &at
	return nil
}
func (SetDealExpectedClose) bulkUpdate() {}

// ActivityBulkUpdate edits activities in bulk.
type ActivityBulkUpdate = BulkUpdate[Activity]

// CompleteActivities marks every selected activity done (or not done).
type CompleteActivities struct {
	Completed bool `json:"completed"`
}

func (CompleteActivities) Op() string { return "set_completed" }
func (u CompleteActivities) Apply(a *Activity) error {
	a.Completed = u.Completed
	return nil
}
func (CompleteActivities) bulkUpdate() {}

// RescheduleActivities moves the due date of every selected activity.
type RescheduleActivities struct {
	DueAt time.Time `json:"due_at"`
}

func (RescheduleActivities) Op() string { return "reschedule" }
func (u RescheduleActivities) Apply(a *Activity) error {
	at := u.DueAt
	a.DueAt = &at
	return nil
}
func (RescheduleActivities) bulkUpdate() {}

// SetActivityOwner reassigns every selected activity.
type SetActivityOwner struct {
	OwnerID EntityID `json:"owner_id"`
}

func (SetActivityOwner) Op() string { return "set_owner" }
func (u SetActivityOwner) Apply(a *Activity) error {
	owner := u.OwnerID
	a.OwnerID = &owner
	return nil
}
func (SetActivityOwner) bulkUpdate() {}

// PipelineBulkUpdate edits pipelines in bulk.
type PipelineBulkUpdate = BulkUpdate[Pipeline]

// SetPipelineActive archives or restores every selected pipeline.
type SetPipelineActive struct {
	Active bool `json:"active"`
}

func (SetPipelineActive) Op() string { return "set_active" }
func (u SetPipelineActive) Apply(p *Pipeline) error {
	p.Active = u.Active
	return nil
}
func (SetPipelineActive) bulkUpdate() {}

// DecodeBulkUpdate resolves a wire envelope to the concrete operation for T.
func DecodeBulkUpdate[T any](env BulkEnvelope) (BulkUpdate[T], error) {
	var zero T
	var target any
	switch any(zero).(type) {
	case Contact:
		switch env.Op {
		case "set_status":
			target = &SetContactStatus{}
		case "set_owner":
			target = &SetContactOwner{}
		case "add_tag":
			target = &TagContacts{}
		}
	case Company:
		switch env.Op {
		case "set_owner":
			target = &SetCompanyOwner{}
		case "set_industry":
			target = &SetCompanyIndustry{}
		}
	case Deal:
		switch env.Op {
		case "set_owner":
			target = &SetDealOwner{}
		case "set_expected_close":
			target = &SetDealExpectedClose{}
		}
	case Activity:
		switch env.Op {
		case "set_completed":
			target = &CompleteActivities{}
		case "reschedule":
			target = &RescheduleActivities{}
		case "set_owner":
			target = &SetActivityOwner{}
		}
	case Pipeline:
		if env.Op == "set_active" {
			target = &SetPipelineActive{}
		}
	}
	if target == nil {
		return nil, fmt.Errorf("unsupported bulk operation %q for %T", env.Op, zero)
	}
	if len(env.Fields) > 0 {
		if err := json.Unmarshal(env.Fields, target); err != nil {
			return nil, fmt.Errorf("decode bulk %s: %w", env.Op, err)
		}
	}
	// Dereference so callers get the same value types the constructors produce.
	var update any
	switch t := target.(type) {
	case *SetContactStatus:
		update = *t
	case *SetContactOwner:
		update = *t
	case *TagContacts:
		update = *t
	case *SetCompanyOwner:
		update = *t
	case *SetCompanyIndustry:
		update = *t
	case *SetDealOwner:
		update = *t
	case *SetDealExpectedClose:
		update = *t
	case *CompleteActivities:
		update = *t
	case *RescheduleActivities:
		update = *t
	case *SetActivityOwner:
		update = *t
	case *SetPipelineActive:
		update = *t
	}
	out, ok := update.(BulkUpdate[T])
	if !ok {
		return nil, fmt.Errorf("bulk operation %q does not apply to %T", env.Op, zero)
	}
	return out, nil
}
