package trackings_api

import (
	"time"

	"github.com/BearBump/TrackNumbers/internal/models"
)

// trackingResource is the public shape of a tracking number. QRCode and
// Barcode are PNG bytes, base64 encoded by encoding/json.
type trackingResource struct {
	ID                  string         `json:"id"`
	UUID                string         `json:"uuid"`
	TrackingNumber      string         `json:"tracking_number"`
	Region              string         `json:"region"`
	Owner               *string        `json:"owner"`
	Type                *string        `json:"type"`
	LastStatus          string         `json:"last_status"`
	LastStatusCode      string         `json:"last_status_code"`
	LastStatusUpdatedAt *time.Time     `json:"last_status_updated_at"`
	QRCode              []byte         `json:"qr_code"`
	Barcode             []byte         `json:"barcode"`
	Location            *models.Point  `json:"location"`
	Meta                map[string]any `json:"meta"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func toResource(rec *models.TrackingRecord) trackingResource {
	out := trackingResource{
		ID:                  rec.PublicID,
		UUID:                rec.ID,
		TrackingNumber:      rec.TrackingNumber,
		Region:              rec.Region,
		LastStatus:          rec.LastStatus,
		LastStatusCode:      rec.LastStatusCode,
		LastStatusUpdatedAt: rec.LastStatusUpdatedAt,
		QRCode:              rec.QRCode,
		Barcode:             rec.Barcode,
		Location:            rec.Location,
		Meta:                rec.Meta,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
	if rec.HasOwner() {
		owner, kind := rec.OwnerID, string(rec.OwnerKind)
		out.Owner = &owner
		out.Type = &kind
	}
	return out
}

type statusResource struct {
	ID        int64        `json:"id"`
	Status    string       `json:"status"`
	Code      string       `json:"code"`
	Details   string       `json:"details"`
	Location  models.Point `json:"location"`
	CreatedAt time.Time    `json:"created_at"`
}

func toStatusResource(ev *models.StatusEvent) statusResource {
	return statusResource{
		ID:        ev.ID,
		Status:    ev.Status,
		Code:      ev.Code,
		Details:   ev.Details,
		Location:  ev.Location,
		CreatedAt: ev.CreatedAt,
	}
}

type deleteResource struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Deleted bool      `json:"deleted"`
	Time    time.Time `json:"time"`
}

type ownerResource struct {
	ID     string `json:"id"`
	UUID   string `json:"uuid"`
	Type   string `json:"type"`
	Status string `json:"status"`
}
