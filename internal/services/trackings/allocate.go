package trackings

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/TrackNumbers/internal/broker/messages"
	"github.com/BearBump/TrackNumbers/internal/encoding/symbology"
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/trackcode"
	"github.com/pkg/errors"
)

const ownerStatusCreated = "created"

// Allocate creates a tracking record with a unique tracking number and its
// initial CREATED status, then marks the owner as created. The owner write is
// best effort: its failure is logged and does not fail the allocation.
func (s *Service) Allocate(ctx context.Context, tenant models.Tenant, input models.TrackingInput, owner *models.OwnerRef) (*models.TrackingRecord, error) {
	started := s.now()
	rec, err := s.allocate(ctx, tenant, input, owner)
	if err != nil {
		s.metrics.Allocated("error", started)
		return nil, err
	}
	s.metrics.Allocated("ok", started)

	s.cacheRecord(ctx, rec.CompanyID, rec, identifiers(rec)...)
	s.publishAllocated(ctx, rec)
	return rec, nil
}

func (s *Service) allocate(ctx context.Context, tenant models.Tenant, input models.TrackingInput, ownerRef *models.OwnerRef) (*models.TrackingRecord, error) {
	if err := requireCompany(tenant); err != nil {
		return nil, err
	}
	region, err := normalizeRegion(input.Region)
	if err != nil {
		return nil, err
	}
	if err := validatePoint(input.Location); err != nil {
		return nil, err
	}

	key := tenant.APIKey
	if key == "" {
		key = models.DefaultAPIKey
	}
	rec := &models.TrackingRecord{
		ID:        s.gen.UUID(),
		PublicID:  s.gen.PublicID(models.PublicIDKindTracking),
		CompanyID: tenant.CompanyID,
		Key:       key,
		Region:    region,
		Location:  input.Location,
		Meta:      input.Meta,
		CreatedAt: s.now().UTC(),
	}

	label := "Tracking number"
	var (
		owner     *models.Owner
		ownerKind OwnerKindConfig
	)
	if ownerRef != nil {
		ownerKind, err = s.kinds.lookup(ownerRef.Kind)
		if err != nil {
			return nil, err
		}
		owner, err = s.loadOwner(ctx, tenant, *ownerRef)
		if err != nil {
			return nil, err
		}
		rec.OwnerID = owner.ID
		rec.OwnerKind = owner.Kind
		label = ownerKind.Label
	}

	initial := &models.StatusEvent{
		Status:    label + " created",
		Code:      models.StatusCodeCreated,
		Details:   "New " + strings.ToLower(label) + " created.",
		CreatedAt: rec.CreatedAt,
	}
	if input.Location != nil {
		initial.Location = *input.Location
	}

	if err := s.insertWithUniqueCode(ctx, tenant, rec, initial); err != nil {
		return nil, err
	}
	rec.ApplyLastStatus(models.LastStatus{Status: initial.Status, Code: initial.Code, UpdatedAt: initial.CreatedAt})

	if owner != nil && ownerKind.StatusMutable && owner.Status != ownerStatusCreated {
		if err := s.owners.SetStatusDirect(ctx, *owner.Ref(), ownerStatusCreated); err != nil {
			s.metrics.OwnerStatusFailed()
			slog.Warn("set owner status",
				"tracking_id", rec.ID, "owner_type", owner.Kind, "owner_id", owner.ID, "error", err.Error())
		}
	}

	slog.Info("tracking number allocated",
		"tracking_id", rec.ID, "tracking_number", rec.TrackingNumber, "company_id", rec.CompanyID)
	return rec, nil
}

// insertWithUniqueCode generates a number that does not exist yet and writes
// the record. A concurrent writer can still take the same number between the
// check and the insert; the store's unique index catches that and the number
// is regenerated. Existence checks across all inserts share one attempt budget.
func (s *Service) insertWithUniqueCode(ctx context.Context, tenant models.Tenant, rec *models.TrackingRecord, initial *models.StatusEvent) error {
	companyName := ""
	if tenant.CompanyName != nil {
		companyName = *tenant.CompanyName
	}

	remaining := s.gen.MaxAttempts()
	inserts := 0
	for remaining > 0 {
		code, used, err := s.gen.GenerateWithin(ctx, remaining, companyName, rec.Region, trackcode.DefaultLength, s.repo.TrackingNumberExists)
		remaining -= used
		if err != nil {
			if errors.Is(err, trackcode.ErrGenerationExhausted) {
				return errors.Wrapf(trackcode.ErrGenerationExhausted, "after %d attempts and %d inserts", s.gen.MaxAttempts(), inserts)
			}
			return persistence("check tracking number", err)
		}
		rec.TrackingNumber = code
		if rec.QRCode == nil {
			if err := s.encodeCodes(rec); err != nil {
				return err
			}
		}
		inserts++

		err = s.repo.CreateTracking(ctx, rec, initial)
		if errors.Is(err, models.ErrDuplicateCode) {
			s.metrics.Collision()
			slog.Debug("tracking number taken on insert, regenerating", "tracking_number", code)
			continue
		}
		if err != nil {
			return persistence("create tracking", err)
		}
		return nil
	}
	return errors.Wrapf(trackcode.ErrGenerationExhausted, "after %d attempts and %d inserts", s.gen.MaxAttempts(), inserts)
}

// encodeCodes renders the QR code and PDF417 barcode. Both carry the owner id,
// or the record id for ownerless records.
func (s *Service) encodeCodes(rec *models.TrackingRecord) error {
	payload := rec.ID
	if rec.HasOwner() {
		payload = rec.OwnerID
	}
	var err error
	if rec.QRCode, err = s.encoder.Encode(payload, symbology.QRCode); err != nil {
		return errors.Wrap(err, "encode qr code")
	}
	if rec.Barcode, err = s.encoder.Encode(payload, symbology.PDF417); err != nil {
		return errors.Wrap(err, "encode barcode")
	}
	return nil
}

func (s *Service) loadOwner(ctx context.Context, tenant models.Tenant, ref models.OwnerRef) (*models.Owner, error) {
	if ref.ID == "" {
		return nil, errors.Wrap(ErrValidation, "owner id is required")
	}
	owner, err := s.owners.GetOwner(ctx, ref)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrapf(ErrValidation, "%s %q not found", ref.Kind, ref.ID)
	}
	if err != nil {
		return nil, persistence("select owner", err)
	}
	if owner.CompanyID != tenant.CompanyID {
		return nil, errors.Wrapf(ErrValidation, "%s %q not found", ref.Kind, ref.ID)
	}
	return owner, nil
}

func normalizeRegion(region string) (string, error) {
	r := strings.ToUpper(strings.TrimSpace(region))
	if r == "" {
		return models.DefaultRegion, nil
	}
	if len(r) < 2 || len(r) > 3 {
		return "", errors.Wrapf(ErrValidation, "region %q must be 2 or 3 letters", region)
	}
	for i := 0; i < len(r); i++ {
		if r[i] < 'A' || r[i] > 'Z' {
			return "", errors.Wrapf(ErrValidation, "region %q must be 2 or 3 letters", region)
		}
	}
	return r, nil
}

func validatePoint(p *models.Point) error {
	if p == nil {
		return nil
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return errors.Wrapf(ErrValidation, "location (%v, %v) out of range", p.Lat, p.Lon)
	}
	return nil
}

func allocatedMessage(rec *models.TrackingRecord) messages.TrackingAllocated {
	return messages.TrackingAllocated{
		ID:             rec.ID,
		PublicID:       rec.PublicID,
		TrackingNumber: rec.TrackingNumber,
		CompanyID:      rec.CompanyID,
		OwnerID:        rec.OwnerID,
		OwnerType:      string(rec.OwnerKind),
		Region:         rec.Region,
		StatusCode:     rec.LastStatusCode,
		CreatedAt:      rec.CreatedAt,
	}
}
