// Package errors holds sentinel errors shared by pledge storage and
// transport layers.
package errors

import "errors"

var (
	// ErrTimeout is returned when a backend call exceeds its deadline.
	ErrTimeout = errors.New("pledge: timeout")
	// ErrConnectionClosed is returned when a backend client was closed.
	ErrConnectionClosed = errors.New("pledge: connection closed")
	// ErrCircuitOpen is returned while a circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("pledge: circuit breaker is open")
)
