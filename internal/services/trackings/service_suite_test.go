package trackings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/TrackNumbers/internal/broker/messages"
	cachemocks "github.com/BearBump/TrackNumbers/internal/cache/mocks"
	"github.com/BearBump/TrackNumbers/internal/metrics"
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/trackcode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	trackingsmocks "github.com/BearBump/TrackNumbers/internal/services/trackings/mocks"
)

type publishCall struct {
	topic      string
	key, value []byte
}

type recordingPublisher struct {
	calls []publishCall
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls = append(p.calls, publishCall{topic: topic, key: key, value: value})
	return p.err
}

type ServiceSuite struct {
	suite.Suite

	repo    *trackingsmocks.MockRepository
	owners  *trackingsmocks.MockOwnerStore
	cache   *cachemocks.MockBytesCache
	pub     *recordingPublisher
	metrics *metrics.Metrics
	svc     *Service

	tenant models.Tenant
	order  *models.Owner
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &trackingsmocks.MockRepository{}
	s.owners = &trackingsmocks.MockOwnerStore{}
	s.cache = &cachemocks.MockBytesCache{}
	s.pub = &recordingPublisher{}
	s.metrics = metrics.New(prometheus.NewRegistry(), "test")

	s.svc = New(s.repo, s.owners, stubEncoder{}, trackcode.New(nil, 5)).
		WithCache(s.cache, 10*time.Minute).
		WithPublisher(s.pub, "tracking.allocated").
		WithMetrics(s.metrics)

	name := "Acme"
	s.tenant = models.Tenant{CompanyID: "co-1", CompanyName: &name, APIKey: "live_key"}
	s.order = &models.Owner{Kind: models.OwnerKindOrder, ID: "ord-1", PublicID: "order_aaaa111", CompanyID: "co-1", Status: "pending"}
}

func (s *ServiceSuite) orderRef() *models.OwnerRef {
	return &models.OwnerRef{Kind: models.OwnerKindOrder, ID: "ord-1"}
}

func (s *ServiceSuite) expectCreate(ret error) *mock.Call {
	return s.repo.On("CreateTracking", mock.Anything, mock.AnythingOfType("*models.TrackingRecord"), mock.AnythingOfType("*models.StatusEvent")).
		Run(func(args mock.Arguments) {
			if ret != nil {
				return
			}
			ev := args.Get(2).(*models.StatusEvent)
			ev.ID = 42
			id := ev.ID
			args.Get(1).(*models.TrackingRecord).StatusID = &id
		}).
		Return(ret)
}

func (s *ServiceSuite) TestAllocate_OrderOwner() {
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(s.order, nil).Once()
	s.repo.On("TrackingNumberExists", mock.Anything, mock.MatchedBy(func(code string) bool {
		return len(code) == 15 && code[:3] == "ACM" && code[13:] == "SG"
	})).Return(false, nil).Once()
	s.expectCreate(nil).Once()
	s.owners.On("SetStatusDirect", mock.Anything, *s.orderRef(), "created").Return(nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, 10*time.Minute).Return(nil).Times(3)

	rec, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().NoError(err)
	s.Require().Equal("ord-1", rec.OwnerID)
	s.Require().Equal("live_key", rec.Key)
	s.Require().Equal(models.DefaultRegion, rec.Region)
	s.Require().Equal(int64(42), *rec.StatusID)
	s.Require().Equal("Order created", rec.LastStatus)
	s.Require().Equal(models.StatusCodeCreated, rec.LastStatusCode)

	s.Require().Len(s.pub.calls, 1)
	s.Require().Equal("tracking.allocated", s.pub.calls[0].topic)
	s.Require().Equal(rec.TrackingNumber, string(s.pub.calls[0].key))
	var msg messages.TrackingAllocated
	s.Require().NoError(json.Unmarshal(s.pub.calls[0].value, &msg))
	s.Require().Equal(rec.ID, msg.ID)
	s.Require().Equal("order", msg.OwnerType)

	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.Allocations.WithLabelValues("ok")))
	s.repo.AssertExpectations(s.T())
	s.owners.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAllocate_UnsupportedOwnerKind_NoStoreCalls() {
	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, &models.OwnerRef{Kind: "vendor", ID: "v-1"})
	s.Require().ErrorIs(err, ErrUnsupportedOwnerKind)

	s.owners.AssertNotCalled(s.T(), "GetOwner", mock.Anything, mock.Anything)
	s.repo.AssertNotCalled(s.T(), "CreateTracking", mock.Anything, mock.Anything, mock.Anything)
	s.Require().Empty(s.pub.calls)
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.Allocations.WithLabelValues("error")))
}

func (s *ServiceSuite) TestAllocate_OwnerMissingOrForeign() {
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(nil, models.ErrNotFound).Once()
	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().ErrorIs(err, ErrValidation)

	foreign := *s.order
	foreign.CompanyID = "co-2"
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(&foreign, nil).Once()
	_, err = s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().ErrorIs(err, ErrValidation)

	s.repo.AssertNotCalled(s.T(), "CreateTracking", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAllocate_InvalidInput() {
	cases := []struct {
		name   string
		tenant models.Tenant
		input  models.TrackingInput
	}{
		{name: "no company", tenant: models.Tenant{}},
		{name: "long region", tenant: s.tenant, input: models.TrackingInput{Region: "USAX"}},
		{name: "digit region", tenant: s.tenant, input: models.TrackingInput{Region: "U1"}},
		{name: "bad location", tenant: s.tenant, input: models.TrackingInput{Location: &models.Point{Lat: 91}}},
	}
	for _, tc := range cases {
		_, err := s.svc.Allocate(context.Background(), tc.tenant, tc.input, nil)
		s.Require().ErrorIs(err, ErrValidation, tc.name)
	}
	s.repo.AssertNotCalled(s.T(), "TrackingNumberExists", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAllocate_PersistenceError_NoSideEffects() {
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(s.order, nil).Once()
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.expectCreate(errors.New("connection reset")).Once()

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().ErrorIs(err, ErrPersistence)

	s.owners.AssertNotCalled(s.T(), "SetStatusDirect", mock.Anything, mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.Require().Empty(s.pub.calls)
}

func (s *ServiceSuite) TestAllocate_ExistsCheckFailure() {
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, errors.New("timeout")).Once()

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, nil)
	s.Require().ErrorIs(err, ErrPersistence)
	s.repo.AssertNotCalled(s.T(), "CreateTracking", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAllocate_DuplicateOnInsert_Regenerates() {
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Twice()
	s.expectCreate(models.ErrDuplicateCode).Once()
	s.expectCreate(nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{Region: "us"}, nil)
	s.Require().NoError(err)
	s.Require().Equal("US", rec.Region)
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.CodeCollisions))
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAllocate_Exhausted() {
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(true, nil)

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, nil)
	s.Require().ErrorIs(err, trackcode.ErrGenerationExhausted)
	s.repo.AssertNumberOfCalls(s.T(), "TrackingNumberExists", 5)
	s.repo.AssertNotCalled(s.T(), "CreateTracking", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAllocate_ExhaustedAcrossInserts_SharesBudget() {
	// only the last check in the budget finds a free number, and it is lost on insert
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(true, nil).Times(4)
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.expectCreate(models.ErrDuplicateCode)

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, nil)
	s.Require().ErrorIs(err, trackcode.ErrGenerationExhausted)
	s.repo.AssertNumberOfCalls(s.T(), "TrackingNumberExists", 5)
	s.repo.AssertNumberOfCalls(s.T(), "CreateTracking", 1)
}

func (s *ServiceSuite) TestAllocate_EveryInsertConflicts_BoundedByMaxAttempts() {
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil)
	s.expectCreate(models.ErrDuplicateCode)

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, nil)
	s.Require().ErrorIs(err, trackcode.ErrGenerationExhausted)
	s.repo.AssertNumberOfCalls(s.T(), "TrackingNumberExists", 5)
	s.repo.AssertNumberOfCalls(s.T(), "CreateTracking", 5)
	s.Require().Equal(5.0, testutil.ToFloat64(s.metrics.CodeCollisions))
}

func (s *ServiceSuite) TestAllocate_OwnerStatusFailure_NotFatal() {
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(s.order, nil).Once()
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.expectCreate(nil).Once()
	s.owners.On("SetStatusDirect", mock.Anything, *s.orderRef(), "created").Return(errors.New("lock timeout")).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().NoError(err)
	s.Require().NotEmpty(rec.TrackingNumber)
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.OwnerStatusFails))
}

func (s *ServiceSuite) TestAllocate_OwnerAlreadyCreated_NoWrite() {
	created := *s.order
	created.Status = "created"
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(&created, nil).Once()
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.expectCreate(nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().NoError(err)
	s.owners.AssertNotCalled(s.T(), "SetStatusDirect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAllocate_ImmutableOwnerKind_NoWrite() {
	s.svc.WithOwnerKinds(OwnerKinds{models.OwnerKindOrder: {Label: "Shipment"}})
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(s.order, nil).Once()
	s.repo.On("TrackingNumberExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.expectCreate(nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec, err := s.svc.Allocate(context.Background(), s.tenant, models.TrackingInput{}, s.orderRef())
	s.Require().NoError(err)
	s.Require().Equal("Shipment created", rec.LastStatus)
	s.owners.AssertNotCalled(s.T(), "SetStatusDirect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestFind_CacheHit_NoDB() {
	cached := &models.TrackingRecord{ID: "t-1", TrackingNumber: "ACM0123456789SG", LastStatusCode: "CREATED"}
	b, _ := json.Marshal(cached)
	s.cache.On("Get", mock.Anything, "tracking:co-1:ACM0123456789SG:current").Return(b, true, nil).Once()

	rec, err := s.svc.FindByAnyIdentifier(context.Background(), s.tenant, " ACM0123456789SG ")
	s.Require().NoError(err)
	s.Require().Equal("t-1", rec.ID)
	s.repo.AssertNotCalled(s.T(), "FindTracking", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestFind_CacheMiss_LoadsAndCaches() {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.cache.On("Get", mock.Anything, "tracking:co-1:track_abc1234:current").Return(nil, false, nil).Once()
	s.repo.On("FindTracking", mock.Anything, "co-1", "track_abc1234").
		Return(&models.TrackingRecord{ID: "t-1", PublicID: "track_abc1234"}, nil).Once()
	s.repo.On("ListStatusEvents", mock.Anything, "t-1", 0, 0).Return([]*models.StatusEvent{
		{ID: 1, Status: "Order created", Code: "CREATED", CreatedAt: t0},
		{ID: 3, Status: "Dispatched", Code: "DISPATCHED", CreatedAt: t0.Add(time.Hour)},
		{ID: 2, Status: "Picked up", Code: "PICKED_UP", CreatedAt: t0.Add(time.Hour)},
	}, nil).Once()
	s.cache.On("Set", mock.Anything, "tracking:co-1:track_abc1234:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	rec, err := s.svc.FindByAnyIdentifier(context.Background(), s.tenant, "track_abc1234")
	s.Require().NoError(err)
	s.Require().Equal("DISPATCHED", rec.LastStatusCode)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestFind_NotFound() {
	s.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.repo.On("FindTracking", mock.Anything, "co-1", "nope").Return(nil, models.ErrNotFound).Once()

	_, err := s.svc.FindByAnyIdentifier(context.Background(), s.tenant, "nope")
	s.Require().ErrorIs(err, models.ErrNotFound)

	_, err = s.svc.FindByAnyIdentifier(context.Background(), s.tenant, "  ")
	s.Require().ErrorIs(err, ErrValidation)
}

func (s *ServiceSuite) TestDelete_EvictsAllKeys() {
	rec := &models.TrackingRecord{ID: "t-1", PublicID: "track_abc1234", TrackingNumber: "ACM0123456789SG", CompanyID: "co-1"}
	deletedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	s.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.repo.On("FindTracking", mock.Anything, "co-1", "t-1").Return(rec, nil).Once()
	s.repo.On("ListStatusEvents", mock.Anything, "t-1", 0, 0).
		Return([]*models.StatusEvent{{ID: 1, Code: "CREATED"}}, nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.repo.On("SoftDeleteTracking", mock.Anything, "t-1").Return(deletedAt, nil).Once()
	s.cache.On("Delete", mock.Anything, []string{
		"tracking:co-1:t-1:current", "tracking::t-1:current",
		"tracking:co-1:track_abc1234:current", "tracking::track_abc1234:current",
		"tracking:co-1:ACM0123456789SG:current", "tracking::ACM0123456789SG:current",
	}).Return(nil).Once()

	out, err := s.svc.Delete(context.Background(), s.tenant, "t-1")
	s.Require().NoError(err)
	s.Require().Equal(deletedAt, *out.DeletedAt)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestUpdateOwnerStatus_OwnerGone_NoOp() {
	rec := &models.TrackingRecord{ID: "t-1", OwnerID: "ord-1", OwnerKind: models.OwnerKindOrder}
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(nil, models.ErrNotFound).Once()

	out, err := s.svc.UpdateOwnerStatus(context.Background(), rec, &models.StatusEvent{Code: "COMPLETED"})
	s.Require().NoError(err)
	s.Require().Same(rec, out)
	s.owners.AssertNotCalled(s.T(), "SetStatusDirect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestUpdateOwnerStatus_NilStatus_ReloadsPointer() {
	statusID := int64(9)
	rec := &models.TrackingRecord{ID: "t-1", OwnerID: "ord-1", OwnerKind: models.OwnerKindOrder, StatusID: &statusID}
	s.repo.On("GetStatusEvent", mock.Anything, statusID).Return(&models.StatusEvent{ID: 9, Code: "DISPATCHED"}, nil).Once()
	s.owners.On("GetOwner", mock.Anything, *s.orderRef()).Return(s.order, nil).Once()
	s.owners.On("SetStatusDirect", mock.Anything, *s.orderRef(), "dispatched").Return(nil).Once()

	_, err := s.svc.UpdateOwnerStatus(context.Background(), rec, nil)
	s.Require().NoError(err)
	s.owners.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestUpdateOwnerStatus_Ownerless_NoOp() {
	rec := &models.TrackingRecord{ID: "t-1"}
	_, err := s.svc.UpdateOwnerStatus(context.Background(), rec, nil)
	s.Require().NoError(err)
	s.repo.AssertNotCalled(s.T(), "GetStatusEvent", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestTenant_ResolvesCompanyName() {
	s.repo.On("CompanyName", mock.Anything, "co-1").Return("Acme", true, nil).Once()
	s.repo.On("CompanyName", mock.Anything, "co-9").Return("", false, nil).Once()

	t, err := s.svc.Tenant(context.Background(), "co-1", "k")
	s.Require().NoError(err)
	s.Require().Equal("Acme", *t.CompanyName)

	t, err = s.svc.Tenant(context.Background(), "co-9", "k")
	s.Require().NoError(err)
	s.Require().Nil(t.CompanyName)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
