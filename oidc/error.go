// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrLoginFailed                = errors.New("login failed")
	ErrNotAuthenticated           = errors.New("not authenticated")

	// ErrCSRF is returned when the state of an authorization response does not
	// match the state persisted for the login attempt. It is fatal to the
	// attempt and must never be retried.
	ErrCSRF = errors.New("authorization response state mismatch")

	// ErrExchangeRejected is returned when the token endpoint rejects an
	// authorization code exchange with a 4xx response.
	ErrExchangeRejected = errors.New("authorization code exchange rejected")

	// ErrRefreshRejected is returned when the refresh token has expired or the
	// token endpoint rejected it with a 4xx response. The session is dead.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrServerUnavailable is returned for 5xx responses, network failures and
	// timeouts. It is retryable and never destroys stored tokens.
	ErrServerUnavailable = errors.New("authorization server unavailable")

	// ErrMalformedToken is returned when a token payload cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")

	// ErrAuthorization is returned when an authenticated user lacks a required
	// role. Logging in again will not help.
	ErrAuthorization = errors.New("missing required role")
)

// TokenError describes a failed request to one of the authorization server's
// endpoints. It unwraps to both its Kind (one of ErrExchangeRejected,
// ErrRefreshRejected or ErrServerUnavailable) and the underlying cause, so
// callers can use errors.Is with either.
type TokenError struct {
	// Kind is the taxonomy sentinel for the failure.
	Kind error

	// StatusCode is the http status returned by the server, or zero when no
	// response was received.
	StatusCode int

	// ErrorCode and Description are the RFC 6749 "error" and
	// "error_description" response fields, when present.
	ErrorCode   string
	Description string

	// Wrapped is the underlying cause.
	Wrapped error
}

// Error satisfies the error interface.
func (e *TokenError) Error() string {
	if e == nil {
		return "unknown token error"
	}
	msg := fmt.Sprintf("%s", e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.ErrorCode != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.ErrorCode)
		if e.Description != "" {
			msg = fmt.Sprintf("%s: %s", msg, e.Description)
		}
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Wrapped)
	}
	return msg
}

// Unwrap returns the taxonomy sentinel and the underlying cause.
func (e *TokenError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Wrapped != nil {
		errs = append(errs, e.Wrapped)
	}
	return errs
}

// Retryable reports whether the failure is transient.
func (e *TokenError) Retryable() bool {
	return e != nil && errors.Is(e.Kind, ErrServerUnavailable)
}

// kindForStatus maps an http status from the token endpoint onto the error
// taxonomy. rejected is the kind to use for 4xx responses.
func kindForStatus(status int, rejected error) error {
	switch {
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return rejected
	default:
		return ErrServerUnavailable
	}
}
