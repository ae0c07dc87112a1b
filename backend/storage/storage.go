// Package storage holds what every row store backend shares.
package storage

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write loses, e.g. a call
	// that has already been answered or rejected.
	ErrConflict = errors.New("record was modified concurrently")
)

// Backend kinds accepted by configuration.
const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
	KindDynamo   = "dynamo"
)
