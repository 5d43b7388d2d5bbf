package mocks

import (
	context "context"
	time "time"

	models "github.com/BearBump/TrackNumbers/internal/models"
	mock "github.com/stretchr/testify/mock"
)

// MockRepository is a mock type for the Repository type
type MockRepository struct {
	mock.Mock
}

func (_m *MockRepository) TrackingNumberExists(ctx context.Context, code string) (bool, error) {
	ret := _m.Called(ctx, code)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockRepository) CreateTracking(ctx context.Context, rec *models.TrackingRecord, initial *models.StatusEvent) error {
	ret := _m.Called(ctx, rec, initial)
	return ret.Error(0)
}

func (_m *MockRepository) FindTracking(ctx context.Context, companyID string, identifier string) (*models.TrackingRecord, error) {
	ret := _m.Called(ctx, companyID, identifier)

	var r0 *models.TrackingRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.TrackingRecord)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) ListTrackings(ctx context.Context, companyID string, f models.TrackingFilter) ([]*models.TrackingRecord, error) {
	ret := _m.Called(ctx, companyID, f)

	var r0 []*models.TrackingRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.TrackingRecord)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) SoftDeleteTracking(ctx context.Context, id string) (time.Time, error) {
	ret := _m.Called(ctx, id)
	return ret.Get(0).(time.Time), ret.Error(1)
}

func (_m *MockRepository) ListStatusEvents(ctx context.Context, trackingID string, limit int, offset int) ([]*models.StatusEvent, error) {
	ret := _m.Called(ctx, trackingID, limit, offset)

	var r0 []*models.StatusEvent
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.StatusEvent)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) GetStatusEvent(ctx context.Context, id int64) (*models.StatusEvent, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.StatusEvent
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StatusEvent)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) AppendStatusEvent(ctx context.Context, ev *models.StatusEvent) error {
	ret := _m.Called(ctx, ev)
	return ret.Error(0)
}

func (_m *MockRepository) CompanyName(ctx context.Context, companyID string) (string, bool, error) {
	ret := _m.Called(ctx, companyID)
	return ret.String(0), ret.Bool(1), ret.Error(2)
}
