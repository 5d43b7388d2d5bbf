package pgtracking

import (
	"context"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const statusColumns = `id, tracking_number_id, status, code, details, location_lat, location_lon, created_at`

// ListStatusEvents returns the history newest first.
func (s *Storage) ListStatusEvents(ctx context.Context, trackingID string, limit, offset int) ([]*models.StatusEvent, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.db.Query(ctx, `
SELECT `+statusColumns+`
FROM tracking_statuses
WHERE tracking_number_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, trackingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select statuses")
	}
	defer rows.Close()

	var out []*models.StatusEvent
	for rows.Next() {
		e, err := scanStatus(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan status")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetStatusEvent(ctx context.Context, id int64) (*models.StatusEvent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+statusColumns+` FROM tracking_statuses WHERE id = $1`, id)
	e, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select status")
	}
	return e, nil
}

// AppendStatusEvent inserts ev and moves the record's current-status pointer to it.
func (s *Storage) AppendStatusEvent(ctx context.Context, ev *models.StatusEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertStatus(ctx, tx, ev); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE tracking_numbers
SET status_id = $2, updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
`, ev.TrackingID, ev.ID)
	if err != nil {
		return errors.Wrap(err, "link tracking status")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func insertStatus(ctx context.Context, tx pgx.Tx, ev *models.StatusEvent) error {
	err := tx.QueryRow(ctx, `
INSERT INTO tracking_statuses (
  tracking_number_id, status, code, details, location_lat, location_lon, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, ev.TrackingID, ev.Status, ev.Code, ev.Details, ev.Location.Lat, ev.Location.Lon, ev.CreatedAt.UTC()).Scan(&ev.ID)
	if err != nil {
		return errors.Wrap(err, "insert tracking status")
	}
	return nil
}

func scanStatus(row pgx.Row) (*models.StatusEvent, error) {
	var e models.StatusEvent
	if err := row.Scan(
		&e.ID, &e.TrackingID, &e.Status, &e.Code, &e.Details,
		&e.Location.Lat, &e.Location.Lon, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
