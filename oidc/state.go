// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/subtle"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// NewState generates a fresh, unguessable value suitable for the "state"
// parameter of an authorization request. It binds the callback to the login
// attempt which produced it.
func NewState() (string, error) {
	const op = "oidc.NewState"
	s, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	return s, nil
}

// ValidateState returns true only when expected is non-empty and equal to
// received. A missing expected state never validates.
func ValidateState(expected, received string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
