// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DefaultLandingPath is where a user lands after login when no redirect rule
// matched the page they were denied.
const DefaultLandingPath = "/"

// RedirectRule maps a denied path onto a post-login target. Target is a
// regexp.Expand template, so "$1" refers to the first capture group of
// Pattern.
type RedirectRule struct {
	Pattern *regexp.Regexp
	Target  string
}

// DefaultRedirectRules returns the rules used when none are provided: any page
// under a user's project lands back on that project's info page.
func DefaultRedirectRules() []RedirectRule {
	return []RedirectRule{
		{
			Pattern: regexp.MustCompile(`^/user/project/([^/]+)(/.*)?$`),
			Target:  "/user/project/$1/info",
		},
	}
}

// RedirectTracker remembers where to send a user once an interrupted login
// completes.
type RedirectTracker struct {
	storage     Storage
	rules       []RedirectRule
	defaultPath string
}

// NewRedirectTracker creates a tracker persisting through s. Supported
// options: WithRedirectRules, WithDefaultLandingPath
func NewRedirectTracker(s Storage, opt ...Option) (*RedirectTracker, error) {
	const op = "oidc.NewRedirectTracker"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getRedirectOpts(opt...)
	for i, r := range opts.withRules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("%s: rule %d has no pattern: %w", op, i, ErrInvalidParameter)
		}
	}
	return &RedirectTracker{
		storage:     s,
		rules:       opts.withRules,
		defaultPath: opts.withDefaultLandingPath,
	}, nil
}

// Target derives the post-login target for currentPath without persisting it.
// The first matching rule wins.
func (r *RedirectTracker) Target(currentPath string) string {
	for _, rule := range r.rules {
		m := rule.Pattern.FindStringSubmatchIndex(currentPath)
		if m == nil {
			continue
		}
		return string(rule.Pattern.ExpandString(nil, rule.Target, currentPath, m))
	}
	return r.defaultPath
}

// Capture derives the target for currentPath and persists it, replacing any
// previous target.
func (r *RedirectTracker) Capture(ctx context.Context, currentPath string) (string, error) {
	const op = "RedirectTracker.Capture"
	target := r.Target(currentPath)
	if err := r.storage.Set(ctx, KeyRedirectTo, target); err != nil {
		return "", fmt.Errorf("%s: unable to store redirect target: %w", op, err)
	}
	return target, nil
}

// Consume returns the persisted target and clears it. The default landing
// path is returned when nothing was captured.
func (r *RedirectTracker) Consume(ctx context.Context) (string, error) {
	const op = "RedirectTracker.Consume"
	target, ok, err := r.storage.Get(ctx, KeyRedirectTo)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read redirect target: %w", op, err)
	}
	if err := r.storage.Remove(ctx, KeyRedirectTo); err != nil {
		return "", fmt.Errorf("%s: unable to clear redirect target: %w", op, err)
	}
	if !ok || strings.TrimSpace(target) == "" {
		return r.defaultPath, nil
	}
	return target, nil
}

// redirectOptions is the set of available options for RedirectTracker
// functions
type redirectOptions struct {
	withRules              []RedirectRule
	withDefaultLandingPath string
}

// redirectDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func redirectDefaults() redirectOptions {
	return redirectOptions{
		withRules:              DefaultRedirectRules(),
		withDefaultLandingPath: DefaultLandingPath,
	}
}

// getRedirectOpts gets the redirect defaults and applies the opt overrides
// passed in
func getRedirectOpts(opt ...Option) redirectOptions {
	opts := redirectDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withDefaultLandingPath == "" {
		opts.withDefaultLandingPath = DefaultLandingPath
	}
	return opts
}
