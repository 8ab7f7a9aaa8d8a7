package domain

import (
	"errors"
	"fmt"
)

// ErrRelationMissing marks backend responses for tables that are not deployed
// in the current environment. Callers treat it as a benign empty result.
var ErrRelationMissing = errors.New("relation does not exist")

// AuthError indicates the identity provider rejected a credential or session
// operation. The provider's message is passed through verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NotAuthenticatedError indicates an operation that requires a signed-in
// identity was called without one.
type NotAuthenticatedError struct {
	Op string
}

func (e *NotAuthenticatedError) Error() string {
	return e.Op + ": not authenticated"
}

// NotFoundError indicates a lookup matched nothing, e.g. an unknown join code.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// StoreError wraps a remote-table failure not otherwise classified.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Outcome records the result of a best-effort secondary write. A failed
// outcome is logged by the caller but never fails the enclosing operation.
type Outcome struct {
	Attempted bool
	Err       error
}

// Failed reports whether the write was attempted and did not succeed.
func (o Outcome) Failed() bool {
	return o.Attempted && o.Err != nil
}
