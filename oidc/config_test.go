// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		serverURL   string
		clientID    string
		redirectURL string
		opt         []Option
		want        *Config
		wantIsErr   error
	}{
		{
			name:        "defaults",
			serverURL:   "https://auth.example.com/",
			clientID:    "portal",
			redirectURL: "https://portal.example.com/callback",
			want: &Config{
				ServerURL:   "https://auth.example.com",
				AuthPrefix:  "api/v1",
				ClientID:    "portal",
				RedirectURL: "https://portal.example.com/callback",
				Scopes:      []string{"openid", "email"},
				LoginPath:   "/",
				Timeout:     10 * time.Second,
			},
		},
		{
			name:        "with-options",
			serverURL:   "http://localhost:18443",
			clientID:    "portal",
			redirectURL: "http://localhost:3000/callback",
			opt: []Option{
				WithAuthPrefix("/authapi/v2/"),
				WithScopes("email", "profile", "email"),
				WithClientSecret("shh"),
				WithLoginPath("/login"),
				WithTimeout(time.Second),
				WithDiscovery(true),
				WithUILocales(language.Japanese, language.English),
			},
			want: &Config{
				ServerURL:    "http://localhost:18443",
				AuthPrefix:   "authapi/v2",
				ClientID:     "portal",
				ClientSecret: "shh",
				RedirectURL:  "http://localhost:3000/callback",
				Scopes:       []string{"openid", "email", "profile"},
				LoginPath:    "/login",
				Timeout:      time.Second,
				Discovery:    true,
				UILocales:    []language.Tag{language.Japanese, language.English},
			},
		},
		{
			name:        "missing-client-id",
			serverURL:   "https://auth.example.com",
			redirectURL: "https://portal.example.com/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "missing-server",
			clientID:    "portal",
			redirectURL: "https://portal.example.com/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:      "missing-redirect",
			serverURL: "https://auth.example.com",
			clientID:  "portal",
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "bad-scheme",
			serverURL:   "ftp://auth.example.com",
			clientID:    "portal",
			redirectURL: "https://portal.example.com/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "relative-redirect",
			serverURL:   "https://auth.example.com",
			clientID:    "portal",
			redirectURL: "/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "zero-timeout",
			serverURL:   "https://auth.example.com",
			clientID:    "portal",
			redirectURL: "https://portal.example.com/callback",
			opt:         []Option{WithTimeout(0)},
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "relative-login-path",
			serverURL:   "https://auth.example.com",
			clientID:    "portal",
			redirectURL: "https://portal.example.com/callback",
			opt:         []Option{WithLoginPath("login")},
			wantIsErr:   ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.serverURL, tt.clientID, tt.redirectURL, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var c *Config
	err := c.Validate()
	assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := NewConfig("https://auth.example.com", "portal", "https://portal.example.com/callback",
		WithProviderCA(TestGenerateCA(t, []string{"localhost"})),
		WithTimeout(3*time.Second),
	)
	require.NoError(err)
	client, err := c.HTTPClient()
	require.NoError(err)
	assert.Equal(3*time.Second, client.Timeout)

	c.ProviderCA = "bad"
	_, err = c.HTTPClient()
	require.Error(err)
	assert.Truef(errors.Is(err, ErrInvalidCACert), "wanted \"%s\" but got \"%s\"", ErrInvalidCACert, err)
}

func TestClientSecret_Redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := ClientSecret("super-secret")
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", s))
	b, err := json.Marshal(s)
	require.NoError(err)
	assert.Equal(`"`+RedactedClientSecret+`"`, string(b))
}
