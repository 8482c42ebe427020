// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/authflow/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/authflow/sdk/http"
	"golang.org/x/text/language"
)

const (
	// DefaultAuthPrefix is the path prefix of the authorization server's API.
	DefaultAuthPrefix = "api/v1"

	// DefaultTimeout bounds every request to the authorization server.
	DefaultTimeout = 10 * time.Second
)

// DefaultScopes are requested when none are configured.
func DefaultScopes() []string {
	return []string{oidc.ScopeOpenID, "email"}
}

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration of a public client using the
// authorization code flow with PKCE against a multi-project authorization
// server.
type Config struct {
	// ServerURL is the base URL of the authorization server, including scheme.
	ServerURL string

	// AuthPrefix is the path between ServerURL and the per-project endpoints.
	AuthPrefix string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is an optional relying party secret. Public clients rely on
	// PKCE and leave it empty.
	ClientSecret ClientSecret

	// RedirectURL is the callback URL registered with the server.
	RedirectURL string

	// Scopes requested during login. "openid" is always requested.
	Scopes []string

	// LoginPath is where a user is sent when a login must start over, for
	// example after a rejected code exchange.
	LoginPath string

	// Timeout bounds each request to the server.
	Timeout time.Duration

	// ProviderCA is an optional CA cert to use when sending requests to the
	// server.
	ProviderCA string

	// Discovery enables reading endpoints from the project's
	// .well-known/openid-configuration instead of deriving them.
	Discovery bool

	// UILocales are sent as the ui_locales authorization parameter.
	UILocales []language.Tag
}

// NewConfig composes a new config.
// Supported options:
//
//	WithAuthPrefix
//	WithScopes
//	WithClientSecret
//	WithLoginPath
//	WithTimeout
//	WithProviderCA
//	WithDiscovery
//	WithUILocales
func NewConfig(serverURL, clientID, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ServerURL:    strings.TrimSuffix(serverURL, "/"),
		AuthPrefix:   strings.Trim(opts.withAuthPrefix, "/"),
		ClientID:     clientID,
		ClientSecret: opts.withClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       opts.withScopes,
		LoginPath:    opts.withLoginPath,
		Timeout:      opts.withTimeout,
		ProviderCA:   opts.withProviderCA,
		Discovery:    opts.withDiscovery,
		UILocales:    opts.withUILocales,
	}
	if !strutils.StrListContains(c.Scopes, oidc.ScopeOpenID) {
		c.Scopes = append([]string{oidc.ScopeOpenID}, c.Scopes...)
	}
	c.Scopes = strutils.RemoveDuplicatesStable(c.Scopes, false)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. It does not contact the server.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("%s: server URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	for name, raw := range map[string]string{"server": c.ServerURL, "redirect": c.RedirectURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %s URL %s is invalid: %w", op, name, raw, err)
		}
		if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) || u.Host == "" {
			return fmt.Errorf("%s: %s URL %s is not an absolute http or https URL: %w", op, name, raw, ErrInvalidParameter)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("%s: login path %q must be absolute: %w", op, c.LoginPath, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// configured server, honoring ProviderCA and Timeout.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.ClientContext(ctx, client)
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withAuthPrefix   string
	withScopes       []string
	withClientSecret ClientSecret
	withLoginPath    string
	withTimeout      time.Duration
	withProviderCA   string
	withDiscovery    bool
	withUILocales    []language.Tag
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withAuthPrefix: DefaultAuthPrefix,
		withScopes:     DefaultScopes(),
		withLoginPath:  DefaultLandingPath,
		withTimeout:    DefaultTimeout,
	}
}

// getConfigOpts gets the config defaults and applies the opt overrides passed
// in
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAuthPrefix provides an optional path prefix for the server's API.
func WithAuthPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthPrefix = prefix
		}
	}
}

// WithScopes provides an optional list of scopes. "openid" is added when
// missing.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && len(scopes) > 0 {
			o.withScopes = scopes
		}
	}
}

// WithClientSecret provides an optional client secret for confidential
// clients.
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithLoginPath provides an optional path of the login entry page.
func WithLoginPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLoginPath = path
		}
	}
}

// WithTimeout provides an optional timeout for each request to the server.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithProviderCA provides an optional CA cert for the server.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithDiscovery enables endpoint discovery.
func WithDiscovery(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDiscovery = enabled
		}
	}
}

// WithUILocales provides optional end-user preferred languages for the
// authorization server's pages.
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUILocales = tags
		}
	}
}
