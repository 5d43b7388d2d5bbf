package models

import "github.com/pkg/errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode is returned by storage when a tracking number is already taken,
	// including by a soft-deleted record.
	ErrDuplicateCode = errors.New("tracking number already exists")
)
