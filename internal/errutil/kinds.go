// Package errutil maps oops error codes onto the service's error taxonomy
// and provides logging and test helpers for coded errors.
package errutil

import (
	"net/http"

	"github.com/samber/oops"
)

// Error codes produced by the domain layer.
const (
	CodeValidation = "VALIDATION_FAILED"
	CodeDuplicate  = "DUPLICATE_ACCOUNT"

	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeTokenMissing       = "AUTH_TOKEN_MISSING"
	CodeTokenMalformed     = "AUTH_TOKEN_MALFORMED"
	CodeTokenSignature     = "AUTH_TOKEN_INVALID_SIGNATURE"
	CodeTokenIssuer        = "AUTH_TOKEN_INVALID_ISSUER"
	CodeTokenAudience      = "AUTH_TOKEN_INVALID_AUDIENCE"
	CodeTokenExpired       = "AUTH_TOKEN_EXPIRED"

	CodeForbidden = "ACCESS_FORBIDDEN"

	CodeQrNotFound     = "QR_NOT_FOUND"
	CodeQrExpired      = "QR_EXPIRED"
	CodeQrInvalidState = "QR_INVALID_STATE"
)

// Context keys attached to domain errors.
const (
	KeyViolations = "violations"
	KeyField      = "field"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicate
	KindAuth
	KindForbidden
	KindNotFound
	KindExpired
	KindInvalidState
)

var codeKinds = map[string]Kind{
	CodeValidation:         KindValidation,
	CodeDuplicate:          KindDuplicate,
	CodeInvalidCredentials: KindAuth,
	CodeTokenMissing:       KindAuth,
	CodeTokenMalformed:     KindAuth,
	CodeTokenSignature:     KindAuth,
	CodeTokenIssuer:        KindAuth,
	CodeTokenAudience:      KindAuth,
	CodeTokenExpired:       KindAuth,
	CodeForbidden:          KindForbidden,
	CodeQrNotFound:         KindNotFound,
	CodeQrExpired:          KindExpired,
	CodeQrInvalidState:     KindInvalidState,
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindDuplicate, KindExpired, KindInvalidState:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the oops code carried by err, or "" for plain errors.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// KindOf classifies err. Unknown codes and plain errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if kind, ok := codeKinds[Code(err)]; ok {
		return kind
	}
	return KindInternal
}

// Violations returns the rule violations attached to a validation error.
func Violations(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	v, _ := oopsErr.Context()[KeyViolations].([]string)
	return v
}

// Field returns the colliding field attached to a duplicate error.
func Field(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	f, _ := oopsErr.Context()[KeyField].(string)
	return f
}
