// Package pkg holds small utilities shared across layers: domain errors and
// the JSON response envelope.
//
// Services return the sentinel errors below, usually wrapped with context:
//
//	return fmt.Errorf("%w: receiver %d", pkg.ErrNotFound, id)
//
// and handlers map them to HTTP status codes with errors.Is.
package pkg

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBadRequest      = errors.New("bad request")
	ErrTooLarge        = errors.New("payload too large")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternal        = errors.New("internal error")
)
