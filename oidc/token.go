// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"time"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// TokenResponse is a successful response from the token endpoint. Lifetimes
// are relative, in seconds from when the server issued them.
type TokenResponse struct {
	AccessToken      AccessToken  `json:"access_token"`
	ExpiresIn        int64        `json:"expires_in"`
	RefreshToken     RefreshToken `json:"refresh_token"`
	RefreshExpiresIn int64        `json:"refresh_expires_in"`
	TokenType        string       `json:"token_type,omitempty"`
	IdToken          IdToken      `json:"id_token,omitempty"`
}

// TokenSet is the persisted form of a session's tokens. Expiries are absolute
// and all four fields are written and erased together.
type TokenSet struct {
	AccessToken   AccessToken
	RefreshToken  RefreshToken
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// AccessValid returns true when the set holds an access token which has not
// expired at now.
func (t *TokenSet) AccessValid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.AccessExpiry)
}

// RefreshValid returns true when the set holds a refresh token which has not
// expired at now.
func (t *TokenSet) RefreshValid(now time.Time) bool {
	if t == nil || t.RefreshToken == "" {
		return false
	}
	return now.Before(t.RefreshExpiry)
}

// Status classifies the session the set represents at now.
func (t *TokenSet) Status(now time.Time) SessionStatus {
	switch {
	case t.AccessValid(now):
		return SessionActive
	case t.RefreshValid(now):
		return SessionRenewable
	default:
		return SessionDead
	}
}

// SessionStatus describes whether stored tokens can still authenticate a user.
type SessionStatus int

const (
	// SessionDead means a fresh login is required.
	SessionDead SessionStatus = iota

	// SessionRenewable means access has expired but refresh has not.
	SessionRenewable

	// SessionActive means the access token is usable as is.
	SessionActive
)

// Alive returns true when the session can yield an access token without a
// new login.
func (s SessionStatus) Alive() bool {
	return s == SessionActive || s == SessionRenewable
}

// String returns a human readable status.
func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionRenewable:
		return "renewable"
	default:
		return "dead"
	}
}
