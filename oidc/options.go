// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is. Valid for: NewTokenStore and NewController
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *tokenStoreOptions:
			v.withNowFunc = now
		case *controllerOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger. Valid for: NewController
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if v, ok := o.(*controllerOptions); ok {
			v.withLogger = l
		}
	}
}

// WithRedirectRules provides optional rules used to derive a post-login
// redirect target from the path the user was denied. Rules are evaluated in
// order and the first match wins. Valid for: NewRedirectTracker and
// NewController
func WithRedirectRules(rules ...RedirectRule) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *redirectOptions:
			v.withRules = rules
		case *controllerOptions:
			v.withRedirectRules = rules
		}
	}
}

// WithDefaultLandingPath provides an optional path used when no redirect rule
// matches. Valid for: NewRedirectTracker and NewController
func WithDefaultLandingPath(path string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *redirectOptions:
			v.withDefaultLandingPath = path
		case *controllerOptions:
			v.withDefaultLandingPath = path
		}
	}
}

// WithVerifierLength provides an optional length (in characters) for PKCE code
// verifiers. Valid for: NewCodeVerifier and NewController
func WithVerifierLength(n int) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *verifierOptions:
			v.withLength = n
		case *controllerOptions:
			v.withVerifierLength = n
		}
	}
}
