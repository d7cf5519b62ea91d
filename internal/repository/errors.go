package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrConflict is returned when a state transition lost a race, e.g. the
// approval request is no longer pending.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when a unique column (email, username) is taken
var ErrDuplicate = errors.New("duplicate")

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
