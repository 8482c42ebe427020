// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 16

// transport performs the network calls against a project's endpoints. Every
// call is bounded by the configured timeout and its failures are returned as
// *TokenError.
type transport struct {
	cfg       *Config
	client    *http.Client
	endpoints *endpointResolver
	logger    hclog.Logger
	now       func() time.Time
}

func newTransport(c *Config, client *http.Client, logger hclog.Logger, now func() time.Time) *transport {
	if now == nil {
		now = time.Now
	}
	return &transport{
		cfg:       c,
		client:    client,
		endpoints: newEndpointResolver(c),
		logger:    logger,
		now:       now,
	}
}

// withClient returns a context carrying the transport's http client, bounded
// by the configured timeout.
func (t *transport) withClient(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = HTTPClientContext(ctx, t.client)
	return context.WithTimeout(ctx, t.cfg.Timeout)
}

func (t *transport) oauth2Config(ctx context.Context, project string) (*oauth2.Config, *Endpoints, error) {
	const op = "transport.oauth2Config"
	e, err := t.endpoints.resolve(ctx, project)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return &oauth2.Config{
		ClientID:     t.cfg.ClientID,
		ClientSecret: string(t.cfg.ClientSecret),
		RedirectURL:  t.cfg.RedirectURL,
		Scopes:       t.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.AuthURL,
			TokenURL:  e.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, e, nil
}

// authCodeURL builds the authorization request URL for project.
func (t *transport) authCodeURL(ctx context.Context, project, state, challenge string, method ChallengeMethod) (string, error) {
	const op = "transport.authCodeURL"
	ctx, cancel := t.withClient(ctx)
	defer cancel()
	oc, _, err := t.oauth2Config(ctx, project)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", string(method)),
	}
	if len(t.cfg.UILocales) > 0 {
		locales := make([]string, 0, len(t.cfg.UILocales))
		for _, l := range t.cfg.UILocales {
			locales = append(locales, l.String())
		}
		opts = append(opts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oc.AuthCodeURL(state, opts...), nil
}

// exchange trades an authorization code for tokens, presenting the PKCE
// verifier and the state of the attempt.
func (t *transport) exchange(ctx context.Context, project, code, verifier, state string) (*TokenResponse, error) {
	const op = "transport.exchange"
	ctx, cancel := t.withClient(ctx)
	defer cancel()
	oc, _, err := t.oauth2Config(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.logger.Debug("exchanging authorization code", "project", project)
	tk, err := oc.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
		oauth2.SetAuthURLParam("state", state),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err, ErrExchangeRejected))
	}
	return tokenResponse(tk, t.now()), nil
}

// refresh redeems a refresh token for a new token set.
func (t *transport) refresh(ctx context.Context, project string, refreshToken RefreshToken) (*TokenResponse, error) {
	const op = "transport.refresh"
	ctx, cancel := t.withClient(ctx)
	defer cancel()
	oc, _, err := t.oauth2Config(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.logger.Debug("refreshing tokens", "project", project)
	tk, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err, ErrRefreshRejected))
	}
	return tokenResponse(tk, t.now()), nil
}

// revoke asks the server to invalidate refreshToken.
func (t *transport) revoke(ctx context.Context, project string, refreshToken RefreshToken) error {
	const op = "transport.revoke"
	ctx, cancel := t.withClient(ctx)
	defer cancel()
	e, err := t.endpoints.resolve(ctx, project)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form := url.Values{
		"token_type_hint": {"refresh_token"},
		"refresh_token":   {string(refreshToken)},
		"token":           {string(refreshToken)},
		"client_id":       {t.cfg.ClientID},
	}
	if t.cfg.ClientSecret != "" {
		form.Set("client_secret", string(t.cfg.ClientSecret))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	t.logger.Debug("revoking refresh token", "project", project)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, &TokenError{Kind: ErrServerUnavailable, Wrapped: err})
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	te := &TokenError{
		Kind:       kindForStatus(resp.StatusCode, ErrRefreshRejected),
		StatusCode: resp.StatusCode,
		Wrapped:    fmt.Errorf("revocation endpoint returned %s", resp.Status),
	}
	var oauthErr struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &oauthErr) == nil {
		te.ErrorCode, te.Description = oauthErr.Code, oauthErr.Description
	}
	return fmt.Errorf("%s: %w", op, te)
}

// classify maps a token endpoint failure onto the error taxonomy. rejected is
// the kind used for 4xx responses; everything else is ErrServerUnavailable.
func classify(err error, rejected error) *TokenError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &TokenError{
			Kind:        kindForStatus(re.Response.StatusCode, rejected),
			StatusCode:  re.Response.StatusCode,
			ErrorCode:   re.ErrorCode,
			Description: re.ErrorDescription,
			Wrapped:     err,
		}
	}
	return &TokenError{Kind: ErrServerUnavailable, Wrapped: err}
}

// tokenResponse converts an oauth2 token back to its wire form. A lifetime
// only known as an absolute expiry is measured from now.
func tokenResponse(tk *oauth2.Token, now time.Time) *TokenResponse {
	r := &TokenResponse{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
		TokenType:    tk.TokenType,
		ExpiresIn:    tk.ExpiresIn,
	}
	if r.ExpiresIn == 0 {
		if v, ok := extraSeconds(tk.Extra("expires_in")); ok {
			r.ExpiresIn = v
		} else if d := tk.Expiry.Sub(now); !tk.Expiry.IsZero() && d > 0 {
			r.ExpiresIn = int64(d.Seconds())
		}
	}
	if v, ok := extraSeconds(tk.Extra("refresh_expires_in")); ok {
		r.RefreshExpiresIn = v
	}
	if id, ok := tk.Extra("id_token").(string); ok {
		r.IdToken = IdToken(id)
	}
	return r
}

// extraSeconds reads a lifetime from an untyped token response field.
func extraSeconds(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
