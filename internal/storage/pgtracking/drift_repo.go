package pgtracking

import (
	"context"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/pkg/errors"
)

// ListOwnerStatusDrift returns, for every owner whose status is not the
// lower-cased code of the newest current status among its live records, the
// record carrying that status. Oldest update first.
func (s *Storage) ListOwnerStatusDrift(ctx context.Context, limit int) ([]*models.TrackingRecord, error) {
	limit, _ = clampPage(limit, 0)

	rows, err := s.db.Query(ctx, `
WITH latest AS (
  SELECT DISTINCT ON (t.owner_type, t.owner_id)
         t.id, t.owner_type, t.owner_id, lower(st.code) AS code
  FROM tracking_numbers t
  JOIN tracking_statuses st ON st.id = t.status_id
  WHERE t.deleted_at IS NULL AND t.owner_id IS NOT NULL
  ORDER BY t.owner_type, t.owner_id, st.created_at DESC, st.id DESC
)
SELECT `+trackingColumns+`
FROM tracking_numbers
WHERE id IN (
    SELECT l.id
    FROM latest l
    JOIN orders o ON l.owner_type = 'order' AND o.id = l.owner_id
    WHERE o.status <> l.code
    UNION ALL
    SELECT l.id
    FROM latest l
    JOIN entities e ON l.owner_type = 'entity' AND e.id = l.owner_id
    WHERE e.status <> l.code
  )
ORDER BY updated_at, id
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select owner status drift")
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
