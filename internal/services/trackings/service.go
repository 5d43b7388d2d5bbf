package trackings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TrackNumbers/internal/cache"
	"github.com/BearBump/TrackNumbers/internal/encoding/symbology"
	"github.com/BearBump/TrackNumbers/internal/metrics"
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/trackcode"
	"github.com/pkg/errors"
)

type Repository interface {
	TrackingNumberExists(ctx context.Context, code string) (bool, error)
	CreateTracking(ctx context.Context, rec *models.TrackingRecord, initial *models.StatusEvent) error
	FindTracking(ctx context.Context, companyID, identifier string) (*models.TrackingRecord, error)
	ListTrackings(ctx context.Context, companyID string, f models.TrackingFilter) ([]*models.TrackingRecord, error)
	SoftDeleteTracking(ctx context.Context, id string) (time.Time, error)
	ListStatusEvents(ctx context.Context, trackingID string, limit, offset int) ([]*models.StatusEvent, error)
	GetStatusEvent(ctx context.Context, id int64) (*models.StatusEvent, error)
	AppendStatusEvent(ctx context.Context, ev *models.StatusEvent) error
	CompanyName(ctx context.Context, companyID string) (string, bool, error)
}

// OwnerStore reads orders and entities. SetStatusDirect writes the status
// column only, without any of the owner's own update side effects.
type OwnerStore interface {
	GetOwner(ctx context.Context, ref models.OwnerRef) (*models.Owner, error)
	FindOwnerByPublicID(ctx context.Context, companyID, publicID string) (*models.Owner, error)
	FindOwnerByID(ctx context.Context, companyID, id string) (*models.Owner, error)
	SetStatusDirect(ctx context.Context, ref models.OwnerRef, status string) error
}

type Encoder interface {
	Encode(payload string, sym symbology.Symbology) ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo    Repository
	owners  OwnerStore
	encoder Encoder
	gen     *trackcode.Generator
	kinds   OwnerKinds

	cache      cache.BytesCache
	currentTTL time.Duration

	publisher      Publisher
	allocatedTopic string

	metrics *metrics.Metrics
	now     func() time.Time
}

func New(repo Repository, owners OwnerStore, encoder Encoder, gen *trackcode.Generator) *Service {
	if gen == nil {
		gen = trackcode.New(nil, 0)
	}
	return &Service{
		repo:    repo,
		owners:  owners,
		encoder: encoder,
		gen:     gen,
		kinds:   DefaultOwnerKinds(),
		now:     time.Now,
	}
}

// WithCache enables the lookup cache. A nil cache or non-positive ttl leaves it off.
func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.currentTTL = ttl
	return s
}

func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.publisher = p
	s.allocatedTopic = topic
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithOwnerKinds(k OwnerKinds) *Service {
	if len(k) > 0 {
		s.kinds = k
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Tenant resolves the company name for companyID. An unknown company yields
// a tenant without a name.
func (s *Service) Tenant(ctx context.Context, companyID, apiKey string) (models.Tenant, error) {
	t := models.Tenant{CompanyID: companyID, APIKey: apiKey}
	if companyID == "" {
		return t, nil
	}
	name, ok, err := s.repo.CompanyName(ctx, companyID)
	if err != nil {
		return t, persistence("select company", err)
	}
	if ok {
		t.CompanyName = &name
	}
	return t, nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// cacheRecord stores rec under each identifier within companyID. Errors are
// ignored: the cache is an optimisation only.
func (s *Service) cacheRecord(ctx context.Context, companyID string, rec *models.TrackingRecord, idents ...string) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	for _, ident := range idents {
		_ = s.cache.Set(ctx, currentKey(companyID, ident), b, s.currentTTL)
	}
}

func (s *Service) evictRecord(ctx context.Context, rec *models.TrackingRecord) {
	if !s.cacheEnabled() {
		return
	}
	keys := make([]string, 0, 6)
	for _, ident := range identifiers(rec) {
		keys = append(keys, currentKey(rec.CompanyID, ident), currentKey("", ident))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("evict tracking cache", "tracking_id", rec.ID, "error", err.Error())
	}
}

func (s *Service) cachedRecord(ctx context.Context, companyID, identifier string) (*models.TrackingRecord, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, currentKey(companyID, identifier))
	if err != nil || !ok {
		return nil, false
	}
	var rec models.TrackingRecord
	if json.Unmarshal(b, &rec) != nil {
		return nil, false
	}
	return &rec, true
}

func (s *Service) publishAllocated(ctx context.Context, rec *models.TrackingRecord) {
	if s.publisher == nil || s.allocatedTopic == "" {
		return
	}
	b, err := json.Marshal(allocatedMessage(rec))
	if err != nil {
		slog.Warn("marshal tracking allocated", "tracking_id", rec.ID, "error", err.Error())
		return
	}
	if err := s.publisher.Publish(ctx, s.allocatedTopic, []byte(rec.TrackingNumber), b); err != nil {
		slog.Warn("publish tracking allocated", "tracking_id", rec.ID, "error", err.Error())
	}
}

func identifiers(rec *models.TrackingRecord) []string {
	return []string{rec.ID, rec.PublicID, rec.TrackingNumber}
}

func currentKey(companyID, identifier string) string {
	return fmt.Sprintf("tracking:%s:%s:current", companyID, identifier)
}

func requireCompany(t models.Tenant) error {
	if t.CompanyID == "" {
		return errors.Wrap(ErrValidation, "company is required")
	}
	return nil
}
