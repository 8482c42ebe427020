// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"
)

// FlowState is the controller's view of where a user is in the
// authentication flow.
type FlowState int

const (
	StateLoggedOut FlowState = iota
	StateAwaitingCallback
	StateAuthenticated
	StateRefreshing
)

// String returns a human readable state.
func (s FlowState) String() string {
	switch s {
	case StateAwaitingCallback:
		return "awaiting-callback"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "logged-out"
	}
}

// CallbackResult is the outcome of handling an authorization response.
type CallbackResult struct {
	// RedirectTo is where the user should be sent next. It is set on success
	// and when the login must start over.
	RedirectTo string

	// Project the user authenticated against.
	Project string

	// Identity is nil when the access token could not be decoded.
	Identity *IdentityClaims
}

// GuardResult is the outcome of a page guard check. Exactly one of
// AccessToken and LoginURL is set.
type GuardResult struct {
	AccessToken string
	LoginURL    string
}

// Authenticated returns true when the guard produced a token.
func (g *GuardResult) Authenticated() bool {
	return g != nil && g.AccessToken != ""
}

// Controller drives the authorization code flow with PKCE: starting logins,
// handling callbacks, keeping the access token fresh and logging out. It is
// safe for concurrent use and makes at most one refresh request at a time per
// project.
type Controller struct {
	cfg         *Config
	durable     Storage
	attempt     Storage
	tokens      *TokenStore
	redirects   *RedirectTracker
	transport   *transport
	logger      hclog.Logger
	now         func() time.Time
	verifierLen int

	flight     singleflight.Group
	refreshing atomic.Int32
}

// NewController creates a Controller. durable holds the token set, identity,
// project and redirect target. attempt holds the short-lived state of a
// pending login and may be the same storage as durable.
// Supported options:
//
//	WithNow
//	WithLogger
//	WithRedirectRules
//	WithDefaultLandingPath
//	WithVerifierLength
//	WithHTTPClient
func NewController(c *Config, durable, attempt Storage, opt ...Option) (*Controller, error) {
	const op = "oidc.NewController"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case durable == nil:
		return nil, fmt.Errorf("%s: durable storage is nil: %w", op, ErrNilParameter)
	case attempt == nil:
		return nil, fmt.Errorf("%s: attempt storage is nil: %w", op, ErrNilParameter)
	}
	opts := getControllerOpts(opt...)
	if opts.withVerifierLength < MinVerifierLen || opts.withVerifierLength > MaxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is out of range: %w", op, opts.withVerifierLength, ErrInvalidParameter)
	}

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	tokens, err := NewTokenStore(durable, WithNow(opts.withNowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	redirectOpts := []Option{WithDefaultLandingPath(opts.withDefaultLandingPath)}
	if opts.withRedirectRules != nil {
		redirectOpts = append(redirectOpts, WithRedirectRules(opts.withRedirectRules...))
	}
	redirects, err := NewRedirectTracker(durable, redirectOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger := opts.withLogger.Named("authflow")
	return &Controller{
		cfg:         c,
		durable:     durable,
		attempt:     attempt,
		tokens:      tokens,
		redirects:   redirects,
		transport:   newTransport(c, client, logger.Named("transport"), opts.withNowFunc),
		logger:      logger,
		now:         opts.withNowFunc,
		verifierLen: opts.withVerifierLength,
	}, nil
}

// Config returns the controller's configuration.
func (c *Controller) Config() *Config { return c.cfg }

// Login starts a login against project and returns the authorization URL the
// user must be sent to. currentPath is the page the user was denied; the
// target derived from it is restored once the callback succeeds.
func (c *Controller) Login(ctx context.Context, project, currentPath string) (string, error) {
	const op = "Controller.Login"
	if strings.TrimSpace(project) == "" {
		return "", fmt.Errorf("%s: project is empty: %w", op, ErrInvalidParameter)
	}
	v, err := NewCodeVerifier(WithVerifierLength(c.verifierLen))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	state, err := NewState()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := c.transport.authCodeURL(ctx, project, state, v.Challenge(), v.Method())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	target, err := c.redirects.Capture(ctx, currentPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	// the session's project only changes once this attempt succeeds
	if err := saveAttempt(ctx, c.attempt, &LoginAttempt{State: state, CodeVerifier: v.Verifier(), Project: project}); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("login started", "project", project, "redirect_to", target)
	return authURL, nil
}

// HandleCallback completes a login with the code and state of the
// authorization response. The pending attempt is discarded whatever the
// outcome. A state mismatch fails with ErrCSRF without any network call. When
// the result's RedirectTo is set alongside an error, the user should be sent
// there to start over.
func (c *Controller) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	const op = "Controller.HandleCallback"
	a, err := loadAttempt(ctx, c.attempt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := discardAttempt(ctx, c.attempt); err != nil {
			c.logger.Error("unable to discard login attempt", "error", err)
		}
	}()
	startOver := &CallbackResult{RedirectTo: c.cfg.LoginPath}

	if !ValidateState(a.State, state) {
		c.logger.Warn("authorization response state mismatch", "pending", a.State != "")
		return startOver, fmt.Errorf("%s: %w", op, ErrCSRF)
	}
	if code == "" {
		return startOver, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	project := a.Project
	if project == "" {
		return startOver, fmt.Errorf("%s: no project for the login attempt: %w", op, ErrLoginFailed)
	}

	resp, err := c.transport.exchange(ctx, project, code, a.CodeVerifier, state)
	switch {
	case errors.Is(err, ErrExchangeRejected):
		c.logger.Warn("authorization code exchange rejected", "project", project, "error", err)
		return startOver, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		c.logger.Error("authorization code exchange failed", "project", project, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := c.tokens.Save(ctx, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.durable.Set(ctx, KeyLoginProject, project); err != nil {
		return nil, fmt.Errorf("%s: unable to store project: %w", op, err)
	}
	id := c.saveIdentity(ctx, resp.AccessToken)

	target, err := c.redirects.Consume(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("login completed", "project", project, "redirect_to", target)
	return &CallbackResult{RedirectTo: target, Project: project, Identity: id}, nil
}

// CancelLogin discards a pending login attempt, for example when the
// authorization server redirected back with an error.
func (c *Controller) CancelLogin(ctx context.Context) error {
	const op = "Controller.CancelLogin"
	if err := discardAttempt(ctx, c.attempt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// EnsureToken returns a valid access token, refreshing it when it has
// expired. It returns ErrNotAuthenticated when no tokens are stored and
// ErrRefreshRejected, after clearing the tokens, when the session is dead.
// ErrServerUnavailable failures keep the stored tokens.
func (c *Controller) EnsureToken(ctx context.Context) (string, error) {
	const op = "Controller.EnsureToken"
	set, err := c.tokens.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if set == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	if set.AccessValid(c.now()) {
		return string(set.AccessToken), nil
	}
	project, _, err := c.durable.Get(ctx, KeyLoginProject)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read project: %w", op, err)
	}
	if !set.RefreshValid(c.now()) || project == "" {
		c.logger.Info("session expired", "project", project)
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Error("unable to clear tokens", "error", err)
		}
		return "", fmt.Errorf("%s: %w", op, ErrRefreshRejected)
	}
	tk, err := c.refresh(ctx, project)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return tk, nil
}

// refresh joins or starts the single refresh for project. The refresh runs
// detached from ctx, so a caller giving up does not fail the others.
func (c *Controller) refresh(ctx context.Context, project string) (string, error) {
	const op = "Controller.refresh"
	ch := c.flight.DoChan(project, func() (interface{}, error) {
		c.refreshing.Add(1)
		defer c.refreshing.Add(-1)
		return c.doRefresh(context.WithoutCancel(ctx), project)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, &TokenError{Kind: ErrServerUnavailable, Wrapped: ctx.Err()})
	}
}

func (c *Controller) doRefresh(ctx context.Context, project string) (string, error) {
	const op = "Controller.doRefresh"
	// another flight may have finished between the caller's check and now
	set, err := c.tokens.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case set == nil:
		return "", fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	case set.AccessValid(c.now()):
		return string(set.AccessToken), nil
	case !set.RefreshValid(c.now()):
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Error("unable to clear tokens", "error", err)
		}
		return "", fmt.Errorf("%s: %w", op, ErrRefreshRejected)
	}

	resp, err := c.transport.refresh(ctx, project, set.RefreshToken)
	switch {
	case errors.Is(err, ErrRefreshRejected):
		c.logger.Warn("refresh rejected, session cleared", "project", project, "error", err)
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Error("unable to clear tokens", "error", err)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	case err != nil:
		c.logger.Error("refresh failed", "project", project, "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	saved, err := c.tokens.Save(ctx, resp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	c.saveIdentity(ctx, saved.AccessToken)
	c.logger.Debug("tokens refreshed", "project", project)
	return string(saved.AccessToken), nil
}

// saveIdentity stores the identity carried by tk. A token which cannot be
// decoded is still usable for authentication, so failures are only logged.
func (c *Controller) saveIdentity(ctx context.Context, tk AccessToken) *IdentityClaims {
	id, err := DecodeClaims(string(tk))
	if err != nil {
		c.logger.Warn("unable to decode access token claims", "error", err)
		return nil
	}
	if err := c.tokens.SaveIdentity(ctx, id); err != nil {
		c.logger.Error("unable to store identity", "error", err)
	}
	return id
}

// EnsureAuthenticated is the page guard check. It returns a token when the
// session is usable. When it is not, it starts a login against project (or
// the project of the last login when project is empty) and returns the URL to
// send the user to. Without any project the user is sent to the login page.
// ErrServerUnavailable is returned as is and leaves the session intact.
func (c *Controller) EnsureAuthenticated(ctx context.Context, project, currentPath string) (*GuardResult, error) {
	const op = "Controller.EnsureAuthenticated"
	tk, err := c.EnsureToken(ctx)
	switch {
	case err == nil:
		return &GuardResult{AccessToken: tk}, nil
	case !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, ErrRefreshRejected):
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if project == "" {
		if project, _, err = c.durable.Get(ctx, KeyLoginProject); err != nil {
			return nil, fmt.Errorf("%s: unable to read project: %w", op, err)
		}
	}
	if project == "" {
		return &GuardResult{LoginURL: c.cfg.LoginPath}, nil
	}
	u, err := c.Login(ctx, project, currentPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &GuardResult{LoginURL: u}, nil
}

// AuthorizeRequest sets an "Authorization: Bearer" header with a valid access
// token on req.
func (c *Controller) AuthorizeRequest(ctx context.Context, req *http.Request) error {
	const op = "Controller.AuthorizeRequest"
	if req == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	tk, err := c.EnsureToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tk)
	return nil
}

// Logout revokes the refresh token, best effort, and clears every piece of
// local session state whether or not revocation succeeded.
func (c *Controller) Logout(ctx context.Context) error {
	const op = "Controller.Logout"
	var result *multierror.Error

	set, err := c.tokens.Load(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	project, _, err := c.durable.Get(ctx, KeyLoginProject)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if set != nil && set.RefreshToken != "" && project != "" {
		if err := c.transport.revoke(ctx, project, set.RefreshToken); err != nil {
			c.logger.Warn("unable to revoke refresh token", "project", project, "error", err)
		}
	}

	if err := c.tokens.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := removeAll(ctx, c.durable, KeyLoginProject, KeyRedirectTo); err != nil {
		result = multierror.Append(result, err)
	}
	if err := discardAttempt(ctx, c.attempt); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("logged out", "project", project)
	return nil
}

// RequireRole returns ErrAuthorization unless the current access token grants
// every one of required under resourceKey. A token whose claims cannot be
// decoded grants nothing.
func (c *Controller) RequireRole(ctx context.Context, resourceKey string, required ...string) error {
	const op = "Controller.RequireRole"
	set, err := c.tokens.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if set == nil {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	id, err := DecodeClaims(string(set.AccessToken))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrAuthorization, err)
	}
	if missing := id.Roles(resourceKey).Missing(required...); len(missing) > 0 {
		return fmt.Errorf("%s: missing %s role(s) %s: %w", op, resourceKey, strings.Join(missing, ", "), ErrAuthorization)
	}
	return nil
}

// Identity returns the identity carried by the stored access token.
func (c *Controller) Identity(ctx context.Context) (*IdentityClaims, error) {
	const op = "Controller.Identity"
	set, err := c.tokens.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if set == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	id, err := DecodeClaims(string(set.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Status classifies the stored session.
func (c *Controller) Status(ctx context.Context) (SessionStatus, error) {
	const op = "Controller.Status"
	set, err := c.tokens.Load(ctx)
	if err != nil {
		return SessionDead, fmt.Errorf("%s: %w", op, err)
	}
	return set.Status(c.now()), nil
}

// State returns where the user currently is in the flow.
func (c *Controller) State(ctx context.Context) (FlowState, error) {
	const op = "Controller.State"
	if c.refreshing.Load() > 0 {
		return StateRefreshing, nil
	}
	status, err := c.Status(ctx)
	if err != nil {
		return StateLoggedOut, fmt.Errorf("%s: %w", op, err)
	}
	if status.Alive() {
		return StateAuthenticated, nil
	}
	a, err := loadAttempt(ctx, c.attempt)
	if err != nil {
		return StateLoggedOut, fmt.Errorf("%s: %w", op, err)
	}
	if a.State != "" {
		return StateAwaitingCallback, nil
	}
	return StateLoggedOut, nil
}

// controllerOptions is the set of available options for Controller functions
type controllerOptions struct {
	withNowFunc            func() time.Time
	withLogger             hclog.Logger
	withRedirectRules      []RedirectRule
	withDefaultLandingPath string
	withVerifierLength     int
	withHTTPClient         *http.Client
}

// controllerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func controllerDefaults() controllerOptions {
	return controllerOptions{
		withNowFunc:            time.Now,
		withLogger:             hclog.NewNullLogger(),
		withDefaultLandingPath: DefaultLandingPath,
		withVerifierLength:     DefaultVerifierLen,
	}
}

// getControllerOpts gets the controller defaults and applies the opt
// overrides passed in
func getControllerOpts(opt ...Option) controllerOptions {
	opts := controllerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client used for every request to
// the authorization server. It replaces the client built from the Config.
// Valid for: NewController
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}
