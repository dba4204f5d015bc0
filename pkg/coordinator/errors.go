package coordinator

import "errors"

// ErrNotFound means no document exists for the given uuid.
var ErrNotFound = errors.New("coordinator: not found")

// ErrConflict means a PATCH was rejected because the caller does not
// currently hold the claim it is trying to mutate (spec.md §4.1 fencing).
var ErrConflict = errors.New("coordinator: claim conflict")

// ErrValidation means the request body failed a structural or
// state-machine check (bad status transition, missing required field).
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string {
	return "coordinator: validation: " + e.Msg
}

func validationError(msg string) error {
	return &ErrValidation{Msg: msg}
}
