package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var _ core.Backend = (*Client)(nil)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// Client implements core.Backend against a remote Handler.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	logger core.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger logs requests at debug level.
func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpapi: base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpapi: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	c := &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}, logger: nopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Contacts implements core.Backend.
func (c *Client) Contacts() core.EntityAPI[domain.Contact] {
	return remote[domain.Contact]{client: c, entity: domain.EntityContact}
}

// Companies implements core.Backend.
func (c *Client) Companies() core.EntityAPI[domain.Company] {
	return remote[domain.Company]{client: c, entity: domain.EntityCompany}
}

// Activities implements core.Backend.
func (c *Client) Activities() core.EntityAPI[domain.Activity] {
	return remote[domain.Activity]{client: c, entity: domain.EntityActivity}
}

// Pipelines implements core.Backend.
func (c *Client) Pipelines() core.EntityAPI[domain.Pipeline] {
	return remote[domain.Pipeline]{client: c, entity: domain.EntityPipeline}
}

// Deals implements core.Backend.
func (c *Client) Deals() core.DealAPI {
	return remoteDeals{remote[domain.Deal]{client: c, entity: domain.EntityDeal}}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

// do issues one request. Responses with status >= 400 become *domain.APIError
// classified from the body kind or, failing that, the status code; network
// failures are transport errors.
func (c *Client) do(ctx context.Context, entity domain.EntityType, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &domain.APIError{Kind: domain.ErrValidation, Entity: entity, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "build request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID, "duration", time.Since(started))

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, entity)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "decode response", Err: err}
	}
	return nil
}

func decodeError(resp *http.Response, entity domain.EntityType) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	kind := body.Kind
	if _, known := statusByKind[kind]; !known {
		kind = kindForStatus(resp.StatusCode)
	}
	message := body.Error
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}
	return &domain.APIError{Kind: kind, Entity: entity, Message: message}
}

type remote[T domain.Record] struct {
	client *Client
	entity domain.EntityType
}

func (r remote[T]) collection() string { return apiPrefix + r.entity.Namespace() }

func (r remote[T]) item(id domain.EntityID) string {
	return r.collection() + "/" + id.String()
}

func (r remote[T]) Create(ctx context.Context, record T) (T, error) {
	var out T
	err := r.client.do(ctx, r.entity, http.MethodPost, r.collection(), nil, record, &out)
	return out, err
}

func (r remote[T]) Update(ctx context.Context, id domain.EntityID, record T) (T, error) {
	var out T
	err := r.client.do(ctx, r.entity, http.MethodPut, r.item(id), nil, record, &out)
	return out, withID(err, id)
}

func (r remote[T]) Delete(ctx context.Context, id domain.EntityID) error {
	return withID(r.client.do(ctx, r.entity, http.MethodDelete, r.item(id), nil, nil, nil), id)
}

func (r remote[T]) Get(ctx context.Context, id domain.EntityID) (T, error) {
	var out T
	err := r.client.do(ctx, r.entity, http.MethodGet, r.item(id), nil, nil, &out)
	return out, withID(err, id)
}

func (r remote[T]) List(ctx context.Context, criteria domain.SearchCriteria, page domain.Page) (domain.ListResult[T], error) {
	query := url.Values{}
	page = page.Normalize()
	query.Set("page", strconv.Itoa(page.Number))
	query.Set("size", strconv.Itoa(page.Size))
	if norm := criteria.Normalize(); len(norm) > 0 {
		raw, err := json.Marshal(norm)
		if err != nil {
			return domain.ListResult[T]{}, &domain.APIError{Kind: domain.ErrValidation, Entity: r.entity, Message: "encode filter", Err: err}
		}
		query.Set("filter", string(raw))
	}
	var out domain.ListResult[T]
	err := r.client.do(ctx, r.entity, http.MethodGet, r.collection(), query, nil, &out)
	return out, err
}

func (r remote[T]) BulkUpdate(ctx context.Context, requestID string, ids []domain.EntityID, update domain.BulkUpdate[T]) (int, error) {
	if update == nil {
		return 0, domain.NewValidationError(r.entity, "a bulk operation is required")
	}
	env, err := domain.EncodeBulkUpdate(update)
	if err != nil {
		return 0, &domain.APIError{Kind: domain.ErrValidation, Entity: r.entity, Message: "encode bulk update", Err: err}
	}
	var out bulkResponse
	err = r.client.do(ctx, r.entity, http.MethodPost, r.collection()+"/bulk/update", nil,
		bulkUpdateRequest{RequestID: requestID, IDs: ids, Update: env}, &out)
	return out.Affected, err
}

func (r remote[T]) BulkDelete(ctx context.Context, requestID string, ids []domain.EntityID) (int, error) {
	var out bulkResponse
	err := r.client.do(ctx, r.entity, http.MethodPost, r.collection()+"/bulk/delete", nil,
		bulkDeleteRequest{RequestID: requestID, IDs: ids}, &out)
	return out.Affected, err
}

type remoteDeals struct {
	remote[domain.Deal]
}

func (r remoteDeals) Transition(ctx context.Context, id domain.EntityID, transition domain.DealTransition) (domain.Deal, error) {
	var out domain.Deal
	err := r.client.do(ctx, r.entity, http.MethodPost, r.item(id)+"/transition", nil, transition, &out)
	return out, withID(err, id)
}

func withID(err error, id domain.EntityID) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.ID == 0 {
		apiErr.ID = id
	}
	return err
}
