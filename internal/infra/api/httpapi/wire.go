// Package httpapi exposes a core.Backend over HTTP and provides the matching
// client, so the entity stores can run against a remote backend.
//
// Routes, per entity namespace ns:
//
//	GET    /api/v1/{ns}?page=&size=&filter=   list (filter is JSON search criteria)
//	POST   /api/v1/{ns}                       create
//	GET    /api/v1/{ns}/{id}                  get
//	PUT    /api/v1/{ns}/{id}                  update (body carries the version)
//	DELETE /api/v1/{ns}/{id}                  delete
//	POST   /api/v1/{ns}/bulk/update           bulk update
//	POST   /api/v1/{ns}/bulk/delete           bulk delete
//	POST   /api/v1/deals/{id}/transition      deal lifecycle transition
package httpapi

import (
	"net/http"

	"crmcore/pkg/domain"
)

const apiPrefix = "/api/v1/"

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

type bulkUpdateRequest struct {
	RequestID string              `json:"request_id"`
	IDs       []domain.EntityID   `json:"ids"`
	Update    domain.BulkEnvelope `json:"update"`
}

type bulkDeleteRequest struct {
	RequestID string            `json:"request_id"`
	IDs       []domain.EntityID `json:"ids"`
}

type bulkResponse struct {
	Affected int `json:"affected"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

var statusByKind = map[domain.ErrorKind]int{
	domain.ErrValidation: http.StatusUnprocessableEntity,
	domain.ErrConflict:   http.StatusConflict,
	domain.ErrNotFound:   http.StatusNotFound,
	domain.ErrPermission: http.StatusForbidden,
	domain.ErrTransport:  http.StatusBadGateway,
}

// kindForStatus classifies a response without a kind in its body.
func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	case http.StatusConflict, http.StatusPreconditionFailed:
		return domain.ErrConflict
	case http.StatusNotFound, http.StatusGone:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrPermission
	}
	return domain.ErrTransport
}
