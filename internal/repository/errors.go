package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when trying to create a user with an existing email
	ErrDuplicateEmail = errors.New("user with this email already exists")

	// ErrStaleCursor is returned when a cursor advance races with another writer
	ErrStaleCursor = errors.New("cursor sequence is stale")

	// ErrClaimLost is returned when a run writes after its connection was deactivated or taken over
	ErrClaimLost = errors.New("sync claim no longer held")
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
