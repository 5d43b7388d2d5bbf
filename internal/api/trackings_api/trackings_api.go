package trackings_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/services/trackings"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const (
	HeaderCompanyID = "X-Company-ID"
	HeaderAPIKey    = "X-Api-Key"

	objectTrackingNumber = "tracking_number"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Service is the part of trackings.Service the handlers use.
type Service interface {
	Tenant(ctx context.Context, companyID, apiKey string) (models.Tenant, error)
	Allocate(ctx context.Context, tenant models.Tenant, input models.TrackingInput, owner *models.OwnerRef) (*models.TrackingRecord, error)
	FindByAnyIdentifier(ctx context.Context, tenant models.Tenant, identifier string) (*models.TrackingRecord, error)
	List(ctx context.Context, tenant models.Tenant, f models.TrackingFilter) ([]*models.TrackingRecord, error)
	Delete(ctx context.Context, tenant models.Tenant, identifier string) (*models.TrackingRecord, error)
	ListStatusEvents(ctx context.Context, tenant models.Tenant, identifier string, limit, offset int) ([]*models.StatusEvent, error)
	AppendStatus(ctx context.Context, tenant models.Tenant, identifier string, in models.StatusInput) (*models.TrackingRecord, *models.StatusEvent, error)
	ResolveOwner(ctx context.Context, tenant models.Tenant, publicID string) (*models.Owner, error)
	FromQR(ctx context.Context, tenant models.Tenant, code string) (*models.Owner, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type TrackingsAPI struct {
	svc Service

	limiter     RateLimiter
	createLimit int64
	window      time.Duration
}

func New(svc Service) *TrackingsAPI {
	return &TrackingsAPI{svc: svc, window: time.Minute}
}

// WithRateLimit throttles creates to perMinute per company. perMinute <= 0 disables it.
func (a *TrackingsAPI) WithRateLimit(l RateLimiter, perMinute int) *TrackingsAPI {
	a.limiter = l
	a.createLimit = int64(perMinute)
	return a
}

func (a *TrackingsAPI) Register(r chi.Router) {
	r.Route("/v1/tracking-numbers", func(r chi.Router) {
		r.Use(a.tenantMiddleware)

		r.Post("/", a.create)
		r.Get("/", a.list)
		r.Post("/from-qr", a.fromQR)
		r.Get("/{id}", a.get)
		r.Delete("/{id}", a.delete)
		r.Get("/{id}/statuses", a.listStatuses)
		r.Post("/{id}/statuses", a.appendStatus)
	})
}

type tenantKey struct{}

func (a *TrackingsAPI) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		companyID := strings.TrimSpace(r.Header.Get(HeaderCompanyID))
		if companyID == "" {
			writeError(w, errors.Wrapf(trackings.ErrValidation, "%s header is required", HeaderCompanyID))
			return
		}
		tenant, err := a.svc.Tenant(r.Context(), companyID, r.Header.Get(HeaderAPIKey))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

func tenantFrom(ctx context.Context) models.Tenant {
	t, _ := ctx.Value(tenantKey{}).(models.Tenant)
	return t
}

func (a *TrackingsAPI) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantFrom(ctx)

	if err := a.allowCreate(ctx, tenant.CompanyID); err != nil {
		writeError(w, err)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(trackings.ErrValidation, "invalid json body"))
		return
	}

	var ref *models.OwnerRef
	if owner, _ := body["owner"].(string); strings.TrimSpace(owner) != "" {
		o, err := a.svc.ResolveOwner(ctx, tenant, owner)
		if err != nil {
			writeError(w, err)
			return
		}
		ref = o.Ref()
	}

	rec, err := a.svc.Allocate(ctx, tenant, models.FillTrackingInput(body), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResource(rec))
}

func (a *TrackingsAPI) allowCreate(ctx context.Context, companyID string) error {
	if a.limiter == nil || a.createLimit <= 0 {
		return nil
	}
	ok, _, err := a.limiter.Allow(ctx, "ratelimit:create:"+companyID, a.createLimit, a.window)
	if err != nil {
		// throttling is skipped while redis is unavailable
		slog.Warn("create rate limiter", "company_id", companyID, "error", err.Error())
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

func (a *TrackingsAPI) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := a.svc.List(r.Context(), tenantFrom(r.Context()), models.TrackingFilter{
		OwnerID:        q.Get("owner"),
		Region:         strings.ToUpper(q.Get("region")),
		TrackingNumber: q.Get("tracking_number"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]trackingResource, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResource(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *TrackingsAPI) get(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.FindByAnyIdentifier(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResource(rec))
}

func (a *TrackingsAPI) delete(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Delete(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	deletedAt := time.Now().UTC()
	if rec.DeletedAt != nil {
		deletedAt = *rec.DeletedAt
	}
	writeJSON(w, http.StatusOK, deleteResource{
		ID:      rec.PublicID,
		Object:  objectTrackingNumber,
		Deleted: true,
		Time:    deletedAt,
	})
}

func (a *TrackingsAPI) listStatuses(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	evs, err := a.svc.ListStatusEvents(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]statusResource, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toStatusResource(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

type appendStatusRequest struct {
	Status   string        `json:"status"`
	Code     string        `json:"code"`
	Details  string        `json:"details"`
	Location *models.Point `json:"location"`
}

func (a *TrackingsAPI) appendStatus(w http.ResponseWriter, r *http.Request) {
	var req appendStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(trackings.ErrValidation, "invalid json body"))
		return
	}
	_, ev, err := a.svc.AppendStatus(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), models.StatusInput{
		Status:   req.Status,
		Code:     req.Code,
		Details:  req.Details,
		Location: req.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStatusResource(ev))
}

type fromQRRequest struct {
	Code string `json:"code"`
}

func (a *TrackingsAPI) fromQR(w http.ResponseWriter, r *http.Request) {
	var req fromQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(trackings.ErrValidation, "invalid json body"))
		return
	}
	o, err := a.svc.FromQR(r.Context(), tenantFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerResource{
		ID:     o.PublicID,
		UUID:   o.ID,
		Type:   string(o.Kind),
		Status: o.Status,
	})
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errors.Wrapf(trackings.ErrValidation, "invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.Wrapf(trackings.ErrValidation, "invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trackings.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		slog.Error("tracking request failed", "status", code, "error", msg)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}
