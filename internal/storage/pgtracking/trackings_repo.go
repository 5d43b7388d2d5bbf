package pgtracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	trackingNumberUniqueIndex = "uq_tracking_numbers_tracking_number"

	pgUniqueViolation = "23505"

	defaultListLimit = 100
	maxListLimit     = 500
)

const trackingColumns = `
  id, public_id, tracking_number, company_id, api_key,
  owner_id, owner_type, region, status_id,
  location_lat, location_lon, qr_code, barcode, meta,
  created_at, updated_at, deleted_at`

// TrackingNumberExists also sees soft-deleted rows.
func (s *Storage) TrackingNumberExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tracking_numbers WHERE tracking_number = $1)`, code).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "select tracking number exists")
	}
	return exists, nil
}

// CreateTracking inserts the record and its initial status and points the
// record at that status, in one transaction.
func (s *Storage) CreateTracking(ctx context.Context, rec *models.TrackingRecord, initial *models.StatusEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var meta []byte
	if len(rec.Meta) > 0 {
		meta, err = json.Marshal(rec.Meta)
		if err != nil {
			return errors.Wrap(err, "marshal meta")
		}
	}
	var lat, lon *float64
	if rec.Location != nil {
		lat, lon = &rec.Location.Lat, &rec.Location.Lon
	}

	_, err = tx.Exec(ctx, `
INSERT INTO tracking_numbers (
  id, public_id, tracking_number, company_id, api_key,
  owner_id, owner_type, region,
  location_lat, location_lon, qr_code, barcode, meta,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
`, rec.ID, rec.PublicID, rec.TrackingNumber, rec.CompanyID, rec.Key,
		nullString(rec.OwnerID), nullString(string(rec.OwnerKind)), rec.Region,
		lat, lon, rec.QRCode, rec.Barcode, meta,
		rec.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, trackingNumberUniqueIndex) {
			return models.ErrDuplicateCode
		}
		return errors.Wrap(err, "insert tracking number")
	}

	initial.TrackingID = rec.ID
	if err := insertStatus(ctx, tx, initial); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE tracking_numbers SET status_id = $2 WHERE id = $1`, rec.ID, initial.ID); err != nil {
		return errors.Wrap(err, "link tracking status")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}

	id := initial.ID
	rec.StatusID = &id
	rec.UpdatedAt = rec.CreatedAt
	return nil
}

// FindTracking matches identifier against id, public_id and tracking_number
// of live records, preferring an id match, then public_id.
// An empty companyID disables tenant scoping.
func (s *Storage) FindTracking(ctx context.Context, companyID, identifier string) (*models.TrackingRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+trackingColumns+`
FROM tracking_numbers
WHERE deleted_at IS NULL
  AND ($2 = '' OR company_id = $2)
  AND (id = $1 OR public_id = $1 OR tracking_number = $1)
ORDER BY CASE WHEN id = $1 THEN 0 WHEN public_id = $1 THEN 1 ELSE 2 END
LIMIT 1
`, identifier, companyID)

	t, err := scanTracking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking number")
	}
	return t, nil
}

func (s *Storage) ListTrackings(ctx context.Context, companyID string, f models.TrackingFilter) ([]*models.TrackingRecord, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	where := []string{"deleted_at IS NULL", "company_id = $1"}
	args := []any{companyID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Region != "" {
		add("region = $%d", strings.ToUpper(f.Region))
	}
	if f.TrackingNumber != "" {
		add("tracking_number = $%d", f.TrackingNumber)
	}
	args = append(args, limit, offset)

	q := `SELECT ` + trackingColumns + `
FROM tracking_numbers
WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
ORDER BY created_at DESC, id
LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking numbers")
	}
	defer rows.Close()

	out := make([]*models.TrackingRecord, 0)
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan tracking number")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) SoftDeleteTracking(ctx context.Context, id string) (time.Time, error) {
	var deletedAt time.Time
	err := s.db.QueryRow(ctx, `
UPDATE tracking_numbers
SET deleted_at = now(), updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING deleted_at
`, id).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, models.ErrNotFound
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "soft delete tracking number")
	}
	return deletedAt, nil
}

func (s *Storage) CompanyName(ctx context.Context, companyID string) (string, bool, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT name FROM companies WHERE id = $1`, companyID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "select company")
	}
	return name, true, nil
}

func scanTracking(row pgx.Row) (*models.TrackingRecord, error) {
	var t models.TrackingRecord
	var ownerID, ownerType *string
	var lat, lon *float64
	var meta []byte
	if err := row.Scan(
		&t.ID, &t.PublicID, &t.TrackingNumber, &t.CompanyID, &t.Key,
		&ownerID, &ownerType, &t.Region, &t.StatusID,
		&lat, &lon, &t.QRCode, &t.Barcode, &meta,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	); err != nil {
		return nil, err
	}
	if ownerID != nil {
		t.OwnerID = *ownerID
	}
	if ownerType != nil {
		t.OwnerKind = models.OwnerKind(*ownerType)
	}
	if lat != nil && lon != nil {
		t.Location = &models.Point{Lat: *lat, Lon: *lon}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, errors.Wrap(err, "unmarshal meta")
		}
	}
	return &t, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
