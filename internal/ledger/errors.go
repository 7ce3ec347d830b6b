package ledger

import "errors"

var (
	// ErrMalformedRequest is returned for requests missing required fields
	ErrMalformedRequest = errors.New("malformed request")

	// ErrNotFound is returned when a sequence id has no record
	ErrNotFound = errors.New("record not found")

	// ErrPersistence wraps failures of the durable store
	ErrPersistence = errors.New("persistence failure")

	// ErrIncompatibleSchema means the store cannot back a ledger; startup must abort
	ErrIncompatibleSchema = errors.New("incompatible store schema")

	// ErrCapacityExceeded means stored grants add up to more than the pool totals
	ErrCapacityExceeded = errors.New("recorded allocations exceed pool totals")

	// ErrPoolOverdrawn rejects a replicated grant larger than local availability
	ErrPoolOverdrawn = errors.New("replicated reservation exceeds local availability")
)
