package domain

import "errors"

var ErrObjectNotFound = errors.New("not found")

// ErrValidation marks a command rejected before any state change: bad
// input, a transition the status machine forbids, or a response to a
// request that is no longer pending.
type ErrValidation string

func (e ErrValidation) Error() string { return string(e) }

// ErrConflict marks a command rejected because it collides with existing
// state, such as a duplicate assignment request for the same agent.
type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var v ErrValidation
	return errors.As(err, &v)
}

// IsConflict reports whether err is a conflict rejection.
func IsConflict(err error) bool {
	var c ErrConflict
	return errors.As(err, &c)
}
