package trackings

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/pkg/errors"
)

// ResolveStatus picks the latest event: greatest CreatedAt, then greatest ID.
func ResolveStatus(events []*models.StatusEvent) (models.LastStatus, error) {
	ev, err := latestEvent(events)
	if err != nil {
		return models.LastStatus{}, err
	}
	return models.LastStatus{Status: ev.Status, Code: ev.Code, UpdatedAt: ev.CreatedAt}, nil
}

func latestEvent(events []*models.StatusEvent) (*models.StatusEvent, error) {
	var latest *models.StatusEvent
	for _, e := range events {
		if e == nil {
			continue
		}
		if latest == nil ||
			e.CreatedAt.After(latest.CreatedAt) ||
			(e.CreatedAt.Equal(latest.CreatedAt) && e.ID > latest.ID) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNoStatusHistory
	}
	return latest, nil
}

// WithLastStatus fills the derived LastStatus* fields from the stored history.
func (s *Service) WithLastStatus(ctx context.Context, rec *models.TrackingRecord) (*models.TrackingRecord, error) {
	ev, err := s.currentEvent(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ApplyLastStatus(models.LastStatus{Status: ev.Status, Code: ev.Code, UpdatedAt: ev.CreatedAt})
	return rec, nil
}

func (s *Service) currentEvent(ctx context.Context, rec *models.TrackingRecord) (*models.StatusEvent, error) {
	events, err := s.repo.ListStatusEvents(ctx, rec.ID, 0, 0)
	if err != nil {
		return nil, persistence("select statuses", err)
	}
	ev, err := latestEvent(events)
	if err != nil {
		return nil, errors.Wrapf(err, "tracking number %s", rec.ID)
	}
	return ev, nil
}

// UpdateOwnerStatus copies the lower-cased status code onto the owner when it
// differs from the owner's current status. With a nil status the record's
// current status is used. Calling it again with the same status writes nothing.
func (s *Service) UpdateOwnerStatus(ctx context.Context, rec *models.TrackingRecord, status *models.StatusEvent) (*models.TrackingRecord, error) {
	if !rec.HasOwner() {
		return rec, nil
	}
	kc, err := s.kinds.lookup(rec.OwnerKind)
	if err != nil {
		return nil, err
	}
	if !kc.StatusMutable {
		return rec, nil
	}

	if status == nil {
		status, err = s.reloadStatus(ctx, rec)
		if err != nil {
			return nil, err
		}
	}
	next := strings.ToLower(status.Code)

	ref := models.OwnerRef{Kind: rec.OwnerKind, ID: rec.OwnerID}
	owner, err := s.owners.GetOwner(ctx, ref)
	if errors.Is(err, models.ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return nil, persistence("select owner", err)
	}
	if owner.Status == next {
		return rec, nil
	}
	if err := s.owners.SetStatusDirect(ctx, ref, next); err != nil {
		return nil, persistence("set owner status", err)
	}
	return rec, nil
}

func (s *Service) reloadStatus(ctx context.Context, rec *models.TrackingRecord) (*models.StatusEvent, error) {
	if rec.StatusID != nil {
		ev, err := s.repo.GetStatusEvent(ctx, *rec.StatusID)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, persistence("select status", err)
		}
	}
	return s.currentEvent(ctx, rec)
}

// AppendStatus adds a status event to the record identified by identifier and
// propagates it to the owner. Owner propagation is best effort.
func (s *Service) AppendStatus(ctx context.Context, tenant models.Tenant, identifier string, in models.StatusInput) (*models.TrackingRecord, *models.StatusEvent, error) {
	code, status, err := normalizeStatus(in)
	if err != nil {
		return nil, nil, err
	}
	if err := validatePoint(in.Location); err != nil {
		return nil, nil, err
	}

	rec, err := s.find(ctx, tenant, identifier)
	if err != nil {
		return nil, nil, err
	}

	ev := &models.StatusEvent{
		TrackingID: rec.ID,
		Status:     status,
		Code:       code,
		Details:    strings.TrimSpace(in.Details),
		CreatedAt:  s.now().UTC(),
	}
	switch {
	case in.Location != nil:
		ev.Location = *in.Location
	case rec.Location != nil:
		ev.Location = *rec.Location
	}

	if err := s.repo.AppendStatusEvent(ctx, ev); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, persistence("append status", err)
	}
	s.metrics.StatusAppended()

	id := ev.ID
	rec.StatusID = &id
	rec.ApplyLastStatus(models.LastStatus{Status: ev.Status, Code: ev.Code, UpdatedAt: ev.CreatedAt})
	s.evictRecord(ctx, rec)

	if _, err := s.UpdateOwnerStatus(ctx, rec, ev); err != nil {
		s.metrics.OwnerStatusFailed()
		slog.Warn("propagate owner status",
			"tracking_id", rec.ID, "owner_id", rec.OwnerID, "code", ev.Code, "error", err.Error())
	}
	return rec, ev, nil
}

func (s *Service) ListStatusEvents(ctx context.Context, tenant models.Tenant, identifier string, limit, offset int) ([]*models.StatusEvent, error) {
	rec, err := s.find(ctx, tenant, identifier)
	if err != nil {
		return nil, err
	}
	evs, err := s.repo.ListStatusEvents(ctx, rec.ID, limit, offset)
	if err != nil {
		return nil, persistence("select statuses", err)
	}
	return evs, nil
}

func normalizeStatus(in models.StatusInput) (code, status string, err error) {
	code = strings.ToUpper(strings.TrimSpace(in.Code))
	code = strings.ReplaceAll(code, " ", "_")
	if code == "" {
		return "", "", errors.Wrap(ErrValidation, "status code is required")
	}
	for i := 0; i < len(code); i++ {
		if (code[i] < 'A' || code[i] > 'Z') && code[i] != '_' {
			return "", "", errors.Wrapf(ErrValidation, "status code %q must contain letters and underscores only", in.Code)
		}
	}
	status = strings.TrimSpace(in.Status)
	if status == "" {
		status = humanize(code)
	}
	return code, status, nil
}

// humanize turns IN_TRANSIT into "In transit".
func humanize(code string) string {
	s := strings.ToLower(strings.ReplaceAll(code, "_", " "))
	return strings.ToUpper(s[:1]) + s[1:]
}
