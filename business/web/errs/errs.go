// Package errs provides types and support related to web v1 functionality.
package errs

import (
	"errors"
	"net/http"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (te *Trusted) Error() string {
	return te.Err.Error()
}

// Unwrap gives access to the wrapped error.
func (te *Trusted) Unwrap() error {
	return te.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var te *Trusted
	return errors.As(err, &te)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var te *Trusted
	if !errors.As(err, &te) {
		return nil
	}
	return te
}

// FromChain maps a chain rejection onto a trusted error. A block that is
// waiting for its predecessor is a conflict the caller can retry, anything
// contextually invalid is unprocessable and a malformed block is a bad
// request. Other errors are returned unchanged.
func FromChain(err error) error {
	switch {
	case errors.Is(err, database.ErrBlockOutOfOrder):
		return NewTrusted(err, http.StatusConflict)
	case errors.Is(err, database.ErrBlockNotValid):
		return NewTrusted(err, http.StatusBadRequest)
	case errors.Is(err, database.ErrBlockNotCurrentlyValid):
		return NewTrusted(err, http.StatusUnprocessableEntity)
	case errors.Is(err, database.ErrTxRejected):
		return NewTrusted(err, http.StatusUnprocessableEntity)
	case errors.Is(err, database.ErrNotFound):
		return NewTrusted(err, http.StatusNotFound)
	}
	return err
}
