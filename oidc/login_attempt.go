// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
)

// LoginAttempt is the transient state of one authorization request, from the
// redirect to the authorization server until its callback is handled. State,
// CodeVerifier and Project live in attempt storage and are consumed exactly
// once. RedirectTarget lives in durable storage.
type LoginAttempt struct {
	State          string
	CodeVerifier   string
	Project        string
	RedirectTarget string
}

// saveAttempt persists the attempt scoped parts of a login attempt.
func saveAttempt(ctx context.Context, s Storage, a *LoginAttempt) error {
	const op = "oidc.saveAttempt"
	if a == nil {
		return fmt.Errorf("%s: missing attempt: %w", op, ErrNilParameter)
	}
	if err := setAll(ctx, s, map[string]string{
		KeyLoginState:     a.State,
		KeyCodeVerifier:   a.CodeVerifier,
		KeyPendingProject: a.Project,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// loadAttempt returns the pending attempt's state, verifier and project. Any
// of them may be empty when no attempt is pending.
func loadAttempt(ctx context.Context, s Storage) (*LoginAttempt, error) {
	const op = "oidc.loadAttempt"
	st, _, err := s.Get(ctx, KeyLoginState)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read state: %w", op, err)
	}
	v, _, err := s.Get(ctx, KeyCodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read code verifier: %w", op, err)
	}
	p, _, err := s.Get(ctx, KeyPendingProject)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read project: %w", op, err)
	}
	return &LoginAttempt{State: st, CodeVerifier: v, Project: p}, nil
}

// discardAttempt removes the pending attempt, if any.
func discardAttempt(ctx context.Context, s Storage) error {
	const op = "oidc.discardAttempt"
	if err := removeAll(ctx, s, KeyLoginState, KeyCodeVerifier, KeyPendingProject); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
