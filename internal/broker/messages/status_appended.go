package messages

import "time"

// StatusAppended is consumed from the status topic. TrackingID may be any of
// the record's identifiers (uuid, public id or tracking number).
type StatusAppended struct {
	CompanyID  string `json:"company_id,omitempty"`
	TrackingID string `json:"tracking_id"`

	Status  string `json:"status"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`

	Location *Location `json:"location,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TrackingAllocated is published once a tracking number has been created.
type TrackingAllocated struct {
	ID             string    `json:"id"`
	PublicID       string    `json:"public_id"`
	TrackingNumber string    `json:"tracking_number"`
	CompanyID      string    `json:"company_id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	OwnerType      string    `json:"owner_type,omitempty"`
	Region         string    `json:"region"`
	StatusCode     string    `json:"status_code"`
	CreatedAt      time.Time `json:"created_at"`
}
