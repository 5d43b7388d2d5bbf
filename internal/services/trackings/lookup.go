package trackings

import (
	"context"
	"strings"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/pkg/errors"
)

// FindByAnyIdentifier looks a live record up by id, public id or tracking
// number. models.ErrNotFound is returned when nothing matches.
func (s *Service) FindByAnyIdentifier(ctx context.Context, tenant models.Tenant, identifier string) (*models.TrackingRecord, error) {
	return s.find(ctx, tenant, identifier)
}

func (s *Service) find(ctx context.Context, tenant models.Tenant, identifier string) (*models.TrackingRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errors.Wrap(ErrValidation, "identifier is required")
	}
	if rec, ok := s.cachedRecord(ctx, tenant.CompanyID, identifier); ok {
		return rec, nil
	}

	rec, err := s.repo.FindTracking(ctx, tenant.CompanyID, identifier)
	if errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, persistence("select tracking number", err)
	}
	if _, err := s.WithLastStatus(ctx, rec); err != nil {
		return nil, err
	}

	s.cacheRecord(ctx, tenant.CompanyID, rec, identifier)
	return rec, nil
}

// Delete soft-deletes the record. Its tracking number stays reserved.
func (s *Service) Delete(ctx context.Context, tenant models.Tenant, identifier string) (*models.TrackingRecord, error) {
	rec, err := s.find(ctx, tenant, identifier)
	if err != nil {
		return nil, err
	}
	deletedAt, err := s.repo.SoftDeleteTracking(ctx, rec.ID)
	if errors.Is(err, models.ErrNotFound) {
		s.evictRecord(ctx, rec)
		return nil, err
	}
	if err != nil {
		return nil, persistence("soft delete tracking number", err)
	}
	rec.DeletedAt = &deletedAt
	s.evictRecord(ctx, rec)
	return rec, nil
}

func (s *Service) List(ctx context.Context, tenant models.Tenant, f models.TrackingFilter) ([]*models.TrackingRecord, error) {
	if err := requireCompany(tenant); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListTrackings(ctx, tenant.CompanyID, f)
	if err != nil {
		return nil, persistence("select tracking numbers", err)
	}
	for _, rec := range recs {
		if _, err := s.WithLastStatus(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// ResolveOwner finds an order, or else an entity, by public id.
func (s *Service) ResolveOwner(ctx context.Context, tenant models.Tenant, publicID string) (*models.Owner, error) {
	if err := requireCompany(tenant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(publicID) == "" {
		return nil, errors.Wrap(ErrValidation, "owner is required")
	}
	o, err := s.owners.FindOwnerByPublicID(ctx, tenant.CompanyID, publicID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrapf(ErrValidation, "owner %q not found", publicID)
	}
	if err != nil {
		return nil, persistence("select owner", err)
	}
	return o, nil
}

// FromQR returns the entity, or else the order, whose id is encoded in a
// tracking QR code.
func (s *Service) FromQR(ctx context.Context, tenant models.Tenant, code string) (*models.Owner, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.Wrap(ErrValidation, "code is required")
	}
	o, err := s.owners.FindOwnerByID(ctx, tenant.CompanyID, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrap(ErrValidation, "unable to find QR code value")
	}
	if err != nil {
		return nil, persistence("select owner", err)
	}
	return o, nil
}
