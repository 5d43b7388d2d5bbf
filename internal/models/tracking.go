package models

import "time"

const (
	StatusCodeCreated = "CREATED"

	DefaultRegion = "SG"

	PublicIDKindTracking = "track"

	// DefaultAPIKey marks records created outside of an API credential.
	DefaultAPIKey = "console"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type TrackingRecord struct {
	ID             string
	PublicID       string
	TrackingNumber string
	CompanyID      string
	Key            string

	OwnerID   string
	OwnerKind OwnerKind

	Region   string
	StatusID *int64
	Location *Point

	QRCode  []byte
	Barcode []byte

	Meta map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	// Derived from the status history, never persisted.
	LastStatus          string
	LastStatusCode      string
	LastStatusUpdatedAt *time.Time
}

// HasOwner reports whether the record is attached to an order or entity.
func (t *TrackingRecord) HasOwner() bool {
	return t.OwnerID != "" && t.OwnerKind != ""
}

func (t *TrackingRecord) ApplyLastStatus(ls LastStatus) {
	t.LastStatus = ls.Status
	t.LastStatusCode = ls.Code
	at := ls.UpdatedAt
	t.LastStatusUpdatedAt = &at
}

type StatusEvent struct {
	ID         int64
	TrackingID string
	Status     string
	Code       string
	Details    string
	Location   Point
	CreatedAt  time.Time
}

type LastStatus struct {
	Status    string
	Code      string
	UpdatedAt time.Time
}

type TrackingFilter struct {
	OwnerID        string
	Region         string
	TrackingNumber string
	Limit          int
	Offset         int
}

type StatusInput struct {
	Status   string
	Code     string
	Details  string
	Location *Point
}

// Tenant is the request-scoped company partition. CompanyName is nil when
// the company is unknown.
type Tenant struct {
	CompanyID   string
	CompanyName *string
	APIKey      string
}
