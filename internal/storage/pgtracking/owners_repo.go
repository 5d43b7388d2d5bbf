package pgtracking

import (
	"context"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ownerTables = map[models.OwnerKind]string{
	models.OwnerKindOrder:  "orders",
	models.OwnerKindEntity: "entities",
}

func ownerTable(kind models.OwnerKind) (string, error) {
	t, ok := ownerTables[kind]
	if !ok {
		return "", errors.Errorf("no table for owner kind %q", kind)
	}
	return t, nil
}

func (s *Storage) GetOwner(ctx context.Context, ref models.OwnerRef) (*models.Owner, error) {
	table, err := ownerTable(ref.Kind)
	if err != nil {
		return nil, err
	}
	return s.selectOwner(ctx, ref.Kind, table, `id = $1`, ref.ID)
}

// FindOwnerByPublicID looks in orders first, then entities.
func (s *Storage) FindOwnerByPublicID(ctx context.Context, companyID, publicID string) (*models.Owner, error) {
	return s.findOwner(ctx, []models.OwnerKind{models.OwnerKindOrder, models.OwnerKindEntity},
		`public_id = $1 AND company_id = $2`, publicID, companyID)
}

// FindOwnerByID looks in entities first, then orders.
func (s *Storage) FindOwnerByID(ctx context.Context, companyID, id string) (*models.Owner, error) {
	return s.findOwner(ctx, []models.OwnerKind{models.OwnerKindEntity, models.OwnerKindOrder},
		`id = $1 AND ($2 = '' OR company_id = $2)`, id, companyID)
}

// SetStatusDirect writes the owner's status column and nothing else.
func (s *Storage) SetStatusDirect(ctx context.Context, ref models.OwnerRef, status string) error {
	table, err := ownerTable(ref.Kind)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE `+table+` SET status = $2 WHERE id = $1`, ref.ID, status)
	if err != nil {
		return errors.Wrapf(err, "update %s status", table)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) findOwner(ctx context.Context, kinds []models.OwnerKind, where string, args ...any) (*models.Owner, error) {
	for _, kind := range kinds {
		o, err := s.selectOwner(ctx, kind, ownerTables[kind], where, args...)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, models.ErrNotFound
}

func (s *Storage) selectOwner(ctx context.Context, kind models.OwnerKind, table, where string, args ...any) (*models.Owner, error) {
	o := models.Owner{Kind: kind}
	err := s.db.QueryRow(ctx, `SELECT id, public_id, company_id, status FROM `+table+` WHERE `+where, args...).
		Scan(&o.ID, &o.PublicID, &o.CompanyID, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", table)
	}
	return &o, nil
}
