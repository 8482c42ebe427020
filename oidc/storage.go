// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Storage is the key/value capability the Token Store, CSRF state and
// redirect tracking persist through. Implementations must be safe for
// concurrent use.
//
// See the storage/memory and storage/sqlite packages for implementations.
type Storage interface {
	// Get returns the value stored for key. ok is false when nothing is
	// stored.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value for key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// BatchStorage is implemented by storages which can apply several writes as
// one atomic unit. When available, the Token Store uses it so no reader of
// the storage ever observes a partially written TokenSet.
type BatchStorage interface {
	Storage

	// SetMany stores all values or none of them.
	SetMany(ctx context.Context, values map[string]string) error

	// RemoveMany removes all keys or none of them.
	RemoveMany(ctx context.Context, keys ...string) error
}

// Persisted keys. The names match the ones the portal has always used so
// existing stored sessions keep working.
const (
	KeyAccessToken   = "access_token"
	KeyAccessExpiry  = "expires_in"
	KeyRefreshToken  = "refresh_token"
	KeyRefreshExpiry = "refresh_expires_in"
	KeyUserName      = "user_name"
	KeyUserID        = "user_id"
	KeyLoginProject  = "login_project"
	KeyRedirectTo    = "redirect_to"
	KeyLoginState    = "login_state"
	KeyCodeVerifier  = "code_verifier"

	// KeyPendingProject is the project of a login that has not completed. It
	// lives in attempt storage and only becomes KeyLoginProject once the
	// code exchange succeeds.
	KeyPendingProject = "pending_project"
)

// setAll writes values using a batch when the storage supports it.
func setAll(ctx context.Context, s Storage, values map[string]string) error {
	const op = "oidc.setAll"
	if b, ok := s.(BatchStorage); ok {
		if err := b.SetMany(ctx, values); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	for k, v := range values {
		if err := s.Set(ctx, k, v); err != nil {
			return fmt.Errorf("%s: unable to set %s: %w", op, k, err)
		}
	}
	return nil
}

// removeAll removes keys using a batch when the storage supports it. Without
// a batch every key is attempted and the failures are returned together.
func removeAll(ctx context.Context, s Storage, keys ...string) error {
	const op = "oidc.removeAll"
	if b, ok := s.(BatchStorage); ok {
		if err := b.RemoveMany(ctx, keys...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	var result *multierror.Error
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: unable to remove %s: %w", op, k, err))
		}
	}
	return result.ErrorOrNil()
}
