// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// TokenStore persists the current TokenSet and the identity derived from it.
// Saves and clears are atomic with respect to readers of the same store.
type TokenStore struct {
	mu      sync.RWMutex
	storage Storage
	now     func() time.Time
}

// NewTokenStore creates a TokenStore persisting through s. Supported options:
// WithNow
func NewTokenStore(s Storage, opt ...Option) (*TokenStore, error) {
	const op = "oidc.NewTokenStore"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getTokenStoreOpts(opt...)
	return &TokenStore{
		storage: s,
		now:     opts.withNowFunc,
	}, nil
}

// Save persists resp, converting its relative lifetimes into absolute expiry
// instants using the current time. All four fields are written together. The
// persisted set is returned.
//
// A response with a refresh token but no refresh lifetime keeps the stored
// refresh expiry when it is still in the future, as servers that rotate
// refresh tokens often only send the lifetime with the first one. Without a
// stored expiry the refresh token expires immediately.
func (s *TokenStore) Save(ctx context.Context, resp *TokenResponse) (*TokenSet, error) {
	const op = "TokenStore.Save"
	switch {
	case resp == nil:
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	case resp.AccessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	case resp.ExpiresIn < 0 || resp.RefreshExpiresIn < 0:
		return nil, fmt.Errorf("%s: negative lifetime: %w", op, ErrInvalidParameter)
	}
	now := s.now()
	set := &TokenSet{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		AccessExpiry:  now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		RefreshExpiry: now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.RefreshExpiresIn == 0 && resp.RefreshToken != "" {
		v, _, err := s.storage.Get(ctx, KeyRefreshExpiry)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read refresh expiry: %w", op, err)
		}
		if prev, ok := parseInstant(v); ok && now.Before(prev) {
			set.RefreshExpiry = prev
		}
	}
	if err := setAll(ctx, s.storage, map[string]string{
		KeyAccessToken:   string(set.AccessToken),
		KeyAccessExpiry:  formatInstant(set.AccessExpiry),
		KeyRefreshToken:  string(set.RefreshToken),
		KeyRefreshExpiry: formatInstant(set.RefreshExpiry),
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return set, nil
}

// Load returns the persisted TokenSet, or nil when no access token is stored.
// A stored access token without a readable expiry is treated as absent.
func (s *TokenStore) Load(ctx context.Context) (*TokenSet, error) {
	const op = "TokenStore.Load"
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make(map[string]string, 4)
	for _, k := range []string{KeyAccessToken, KeyAccessExpiry, KeyRefreshToken, KeyRefreshExpiry} {
		v, _, err := s.storage.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read %s: %w", op, k, err)
		}
		values[k] = v
	}
	if values[KeyAccessToken] == "" {
		return nil, nil
	}
	accessExpiry, ok := parseInstant(values[KeyAccessExpiry])
	if !ok {
		return nil, nil
	}
	// an unreadable refresh expiry only makes the refresh token unusable
	refreshExpiry, _ := parseInstant(values[KeyRefreshExpiry])
	return &TokenSet{
		AccessToken:   AccessToken(values[KeyAccessToken]),
		RefreshToken:  RefreshToken(values[KeyRefreshToken]),
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Clear removes the persisted TokenSet and the identity derived from it. It
// is safe to call when nothing is stored.
func (s *TokenStore) Clear(ctx context.Context) error {
	const op = "TokenStore.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := removeAll(ctx, s.storage,
		KeyAccessToken, KeyAccessExpiry, KeyRefreshToken, KeyRefreshExpiry,
		KeyUserName, KeyUserID,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsAccessValid returns true when a stored access token has not expired.
func (s *TokenStore) IsAccessValid(ctx context.Context) (bool, error) {
	const op = "TokenStore.IsAccessValid"
	set, err := s.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return set.AccessValid(s.now()), nil
}

// IsRefreshValid returns true when a stored refresh token has not expired.
func (s *TokenStore) IsRefreshValid(ctx context.Context) (bool, error) {
	const op = "TokenStore.IsRefreshValid"
	set, err := s.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return set.RefreshValid(s.now()), nil
}

// SaveIdentity persists the display identity of the token holder.
func (s *TokenStore) SaveIdentity(ctx context.Context, id *IdentityClaims) error {
	const op = "TokenStore.SaveIdentity"
	if id == nil {
		return fmt.Errorf("%s: identity is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setAll(ctx, s.storage, map[string]string{
		KeyUserName: id.Username,
		KeyUserID:   id.Subject,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Identity returns the persisted username and user id. Both are empty when no
// identity is stored.
func (s *TokenStore) Identity(ctx context.Context) (username, userID string, err error) {
	const op = "TokenStore.Identity"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if username, _, err = s.storage.Get(ctx, KeyUserName); err != nil {
		return "", "", fmt.Errorf("%s: unable to read user name: %w", op, err)
	}
	if userID, _, err = s.storage.Get(ctx, KeyUserID); err != nil {
		return "", "", fmt.Errorf("%s: unable to read user id: %w", op, err)
	}
	return username, userID, nil
}

// formatInstant is the persisted form of an absolute expiry.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseInstant reads an absolute expiry. Values written by earlier clients as
// epoch milliseconds are accepted too.
func parseInstant(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// tokenStoreOptions is the set of available options for TokenStore functions
type tokenStoreOptions struct {
	withNowFunc func() time.Time
}

// tokenStoreDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenStoreDefaults() tokenStoreOptions {
	return tokenStoreOptions{
		withNowFunc: time.Now,
	}
}

// getTokenStoreOpts gets the token store defaults and applies the opt
// overrides passed in
func getTokenStoreOpts(opt ...Option) tokenStoreOptions {
	opts := tokenStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
