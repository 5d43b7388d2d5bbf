package mocks

import (
	context "context"

	models "github.com/BearBump/TrackNumbers/internal/models"
	mock "github.com/stretchr/testify/mock"
)

// MockOwnerStore is a mock type for the OwnerStore type
type MockOwnerStore struct {
	mock.Mock
}

func (_m *MockOwnerStore) GetOwner(ctx context.Context, ref models.OwnerRef) (*models.Owner, error) {
	ret := _m.Called(ctx, ref)
	return ownerOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockOwnerStore) FindOwnerByPublicID(ctx context.Context, companyID string, publicID string) (*models.Owner, error) {
	ret := _m.Called(ctx, companyID, publicID)
	return ownerOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockOwnerStore) FindOwnerByID(ctx context.Context, companyID string, id string) (*models.Owner, error) {
	ret := _m.Called(ctx, companyID, id)
	return ownerOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockOwnerStore) SetStatusDirect(ctx context.Context, ref models.OwnerRef, status string) error {
	ret := _m.Called(ctx, ref, status)
	return ret.Error(0)
}

func ownerOrNil(v any) *models.Owner {
	if v == nil {
		return nil
	}
	return v.(*models.Owner)
}
