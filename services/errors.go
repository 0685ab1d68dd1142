package services

import "github.com/zeebo/errs"

var (
	// ErrValidation covers bad input: options, archives, shapefiles and CRS.
	ErrValidation = errs.Class("validation")
	// ErrNotFound is returned for unknown layers and areas.
	ErrNotFound = errs.Class("not found")
	// ErrTransaction wraps relational failures; the transaction was rolled back.
	ErrTransaction = errs.Class("transaction")
	// ErrPublish is returned after a failed publication was compensated.
	ErrPublish = errs.Class("publish")
	// ErrStorage wraps object storage failures.
	ErrStorage = errs.Class("storage")
)
