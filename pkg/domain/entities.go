// Package domain defines the relationship-management entities, value types,
// error taxonomy and the deal lifecycle machine shared by crmcore.
package domain

import (
	"strconv"
	"time"
)

// EntityID identifies a persisted record. The zero value means "not yet assigned".
type EntityID int64

// String renders the identifier in base 10.
func (id EntityID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseEntityID parses a base 10 identifier.
func ParseEntityID(raw string) (EntityID, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return EntityID(v), nil
}

// EntityType identifies the type of record managed by an entity store.
type EntityType string

// Supported entity types.
const (
	// EntityContact identifies a person record.
	EntityContact EntityType = "contact"
	// EntityCompany identifies an organization record.
	EntityCompany EntityType = "company"
	// EntityDeal identifies a sales opportunity record.
	EntityDeal EntityType = "deal"
	// EntityActivity identifies a call, meeting, task or note.
	EntityActivity EntityType = "activity"
	// EntityPipeline identifies an ordered set of deal stages.
	EntityPipeline EntityType = "pipeline"
)

var entityNamespaces = map[EntityType]string{
	EntityContact:  "contacts",
	EntityCompany:  "companies",
	EntityDeal:     "deals",
	EntityActivity: "activities",
	EntityPipeline: "pipelines",
}

var entityPlurals = map[EntityType]string{
	EntityContact:  "contacts",
	EntityCompany:  "companies",
	EntityDeal:     "deals",
	EntityActivity: "activities",
	EntityPipeline: "pipelines",
}

// Namespace returns the read cache namespace owned by the entity type.
func (t EntityType) Namespace() string {
	if ns, ok := entityNamespaces[t]; ok {
		return ns
	}
	return string(t)
}

// Label returns a human readable noun for count n ("1 deal", "3 deals").
func (t EntityType) Label(n int) string {
	if n == 1 {
		return string(t)
	}
	if p, ok := entityPlurals[t]; ok {
		return p
	}
	return string(t) + "s"
}

// EntityTypes lists every managed entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityContact, EntityCompany, EntityDeal, EntityActivity, EntityPipeline}
}

// Base contains the identity and optimistic-lock fields shared by all records.
type Base struct {
	ID        EntityID  `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity returns the record identifier.
func (b Base) Identity() EntityID { return b.ID }

// LockVersion returns the optimistic-lock counter.
func (b Base) LockVersion() int64 { return b.Version }

// Meta exposes the embedded Base for backends that stamp ids, versions and
// timestamps generically.
func (b *Base) Meta() *Base { return b }

// Record is satisfied by every entity the stores manage.
type Record interface {
	Identity() EntityID
	LockVersion() int64
}

// ContactStatus enumerates contact engagement states.
type ContactStatus string

// Canonical contact statuses.
const (
	ContactStatusLead     ContactStatus = "lead"
	ContactStatusActive   ContactStatus = "active"
	ContactStatusInactive ContactStatus = "inactive"
)

// Valid reports whether the status is one of the canonical values.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusLead, ContactStatusActive, ContactStatusInactive:
		return true
	}
	return false
}

// Contact represents a person tracked by the system.
type Contact struct {
	Base
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Email     string        `json:"email,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	CompanyID *EntityID     `json:"company_id,omitempty"`
	OwnerID   *EntityID     `json:"owner_id,omitempty"`
	Status    ContactStatus `json:"status"`
	Source    string        `json:"source,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
}

// DisplayName joins first and last name.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Company represents an organization.
type Company struct {
	Base
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	Industry  string    `json:"industry,omitempty"`
	Employees int       `json:"employees,omitempty"`
	OwnerID   *EntityID `json:"owner_id,omitempty"`
}

// ActivityKind enumerates activity types.
type ActivityKind string

// Canonical activity kinds.
const (
	ActivityCall    ActivityKind = "call"
	ActivityEmail   ActivityKind = "email"
	ActivityMeeting ActivityKind = "meeting"
	ActivityTask    ActivityKind = "task"
	ActivityNote    ActivityKind = "note"
)

// Valid reports whether the kind is one of the canonical values.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityCall, ActivityEmail, ActivityMeeting, ActivityTask, ActivityNote:
		return true
	}
	return false
}

// Activity is a scheduled or logged interaction.
type Activity struct {
	Base
	Kind      ActivityKind `json:"kind"`
	Subject   string       `json:"subject"`
	DueAt     *time.Time   `json:"due_at,omitempty"`
	Completed bool         `json:"completed"`
	OwnerID   *EntityID    `json:"owner_id,omitempty"`
	ContactID *EntityID    `json:"contact_id,omitempty"`
	CompanyID *EntityID    `json:"company_id,omitempty"`
	DealID    *EntityID    `json:"deal_id,omitempty"`
}

// StageKind distinguishes working stages from terminal outcome stages.
type StageKind string

// Stage kinds.
const (
	StageOpen StageKind = "open"
	StageWon  StageKind = "won"
	StageLost StageKind = "lost"
)

// Stage is one step of a pipeline.
type Stage struct {
	ID       EntityID  `json:"id"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Kind     StageKind `json:"kind"`
}

// Pipeline is an ordered set of stages deals move through.
type Pipeline struct {
	Base
	Name   string  `json:"name"`
	Active bool    `json:"active"`
	Stages []Stage `json:"stages"`
}

// DealStatus enumerates the deal lifecycle states.
type DealStatus string

// Deal lifecycle states.
const (
	DealOpen DealStatus = "OPEN"
	DealWon  DealStatus = "WON"
	DealLost DealStatus = "LOST"
)

// Deal is a sales opportunity moving through a pipeline.
type Deal struct {
	Base
	Title           string     `json:"title"`
	Value           float64    `json:"value"`
	Currency        string     `json:"currency,omitempty"`
	PipelineID      EntityID   `json:"pipeline_id"`
	StageID         EntityID   `json:"stage_id"`
	Status          DealStatus `json:"status"`
	PreviousStageID *EntityID  `json:"previous_stage_id,omitempty"`
	LostReason      string     `json:"lost_reason,omitempty"`
	ContactID       *EntityID  `json:"contact_id,omitempty"`
	CompanyID       *EntityID  `json:"company_id,omitempty"`
	OwnerID         *EntityID  `json:"owner_id,omitempty"`
	ExpectedCloseAt *time.Time `json:"expected_close_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}
