package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

// Handler serves a core.Backend over HTTP.
type Handler struct {
	mux    *http.ServeMux
	logger core.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger logs failed requests.
func WithHandlerLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler mounts every entity API of backend.
func NewHandler(backend core.Backend, opts ...HandlerOption) *Handler {
	h := &Handler{mux: http.NewServeMux(), logger: nopLogger{}}
	for _, opt := range opts {
		opt(h)
	}
	mount(h, domain.EntityContact, backend.Contacts())
	mount(h, domain.EntityCompany, backend.Companies())
	mount(h, domain.EntityActivity, backend.Activities())
	mount(h, domain.EntityPipeline, backend.Pipelines())
	deals := backend.Deals()
	mount[domain.Deal](h, domain.EntityDeal, deals)
	h.mux.HandleFunc("POST "+apiPrefix+"deals/{id}/transition", func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, domain.EntityDeal)
		if !ok {
			return
		}
		var transition domain.DealTransition
		if !h.decode(w, r, domain.EntityDeal, &transition) {
			return
		}
		deal, err := deals.Transition(r.Context(), id, transition)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deal)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, uuid.NewString())
	}
	w.Header().Set(RequestIDHeader, r.Header.Get(RequestIDHeader))
	h.mux.ServeHTTP(w, r)
}

func mount[T domain.Record](h *Handler, entity domain.EntityType, api core.EntityAPI[T]) {
	base := apiPrefix + entity.Namespace()

	h.mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		page := domain.Page{Number: atoi(query.Get("page")), Size: atoi(query.Get("size"))}
		var criteria domain.SearchCriteria
		if raw := query.Get("filter"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
				h.fail(w, r, domain.NewValidationError(entity, "invalid filter: %v", err))
				return
			}
		}
		res, err := api.List(r.Context(), criteria, page)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	h.mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		var rec T
		if !h.decode(w, r, entity, &rec) {
			return
		}
		created, err := api.Create(r.Context(), rec)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	h.mux.HandleFunc("GET "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, entity)
		if !ok {
			return
		}
		rec, err := api.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	h.mux.HandleFunc("PUT "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, entity)
		if !ok {
			return
		}
		var rec T
		if !h.decode(w, r, entity, &rec) {
			return
		}
		updated, err := api.Update(r.Context(), id, rec)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	h.mux.HandleFunc("DELETE "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, entity)
		if !ok {
			return
		}
		if err := api.Delete(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	h.mux.HandleFunc("POST "+base+"/bulk/update", func(w http.ResponseWriter, r *http.Request) {
		var req bulkUpdateRequest
		if !h.decode(w, r, entity, &req) {
			return
		}
		update, err := domain.DecodeBulkUpdate[T](req.Update)
		if err != nil {
			h.fail(w, r, &domain.APIError{Kind: domain.ErrValidation, Entity: entity, Message: err.Error(), Err: err})
			return
		}
		n, err := api.BulkUpdate(r.Context(), req.RequestID, req.IDs, update)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bulkResponse{Affected: n})
	})

	h.mux.HandleFunc("POST "+base+"/bulk/delete", func(w http.ResponseWriter, r *http.Request) {
		var req bulkDeleteRequest
		if !h.decode(w, r, entity, &req) {
			return
		}
		n, err := api.BulkDelete(r.Context(), req.RequestID, req.IDs)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bulkResponse{Affected: n})
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, entity domain.EntityType) (domain.EntityID, bool) {
	id, err := domain.ParseEntityID(r.PathValue("id"))
	if err != nil || id <= 0 {
		h.fail(w, r, domain.NewValidationError(entity, "invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, entity domain.EntityType, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.fail(w, r, domain.NewValidationError(entity, "invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", r.Header.Get(RequestIDHeader), "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
