package task

import "errors"

// ErrPermanent marks failures that must not be retried; the delivery goes
// straight to the dead-letter queue.
var ErrPermanent = errors.New("permanent task failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
