// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestProvider_Discovery(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	c := tp.httpServer.Client()

	resp, err := c.Get(tp.Issuer("acme") + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var doc map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(tp.Issuer("acme"), doc["issuer"])
	assert.Equal(tp.Issuer("acme")+"/openid-connect/revoke", doc["revocation_endpoint"])

	certs, err := c.Get(tp.Issuer("acme") + "/openid-connect/certs")
	require.NoError(err)
	defer certs.Body.Close()
	assert.Equal(http.StatusOK, certs.StatusCode)

	missing, err := c.Get(tp.Addr() + "/nope")
	require.NoError(err)
	defer missing.Body.Close()
	assert.Equal(http.StatusNotFound, missing.StatusCode)
}

func TestTestProvider_Authorize(t *testing.T) {
	t.Parallel()
	authURL := func(tp *TestProvider, q url.Values) string {
		return tp.Issuer("acme") + "/openid-connect/auth?" + q.Encode()
	}
	valid := func() url.Values {
		return url.Values{
			"response_type":         {"code"},
			"client_id":             {"portal"},
			"redirect_uri":          {testRedirectURL},
			"scope":                 {"openid email"},
			"state":                 {"st-1"},
			"code_challenge":        {"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"},
			"code_challenge_method": {"S256"},
		}
	}
	tests := []struct {
		name      string
		modify    func(url.Values)
		authError string
		wantError string
	}{
		{name: "valid"},
		{name: "forced-error", authError: "access_denied", wantError: "access_denied"},
		{name: "wrong-response-type", modify: func(q url.Values) { q.Set("response_type", "token") }, wantError: "unsupported_response_type"},
		{name: "unknown-client", modify: func(q url.Values) { q.Set("client_id", "other") }, wantError: "unauthorized_client"},
		{name: "no-openid", modify: func(q url.Values) { q.Set("scope", "email") }, wantError: "invalid_scope"},
		{name: "no-state", modify: func(q url.Values) { q.Del("state") }, wantError: "invalid_request"},
		{name: "no-challenge", modify: func(q url.Values) { q.Del("code_challenge") }, wantError: "invalid_request"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			tp.SetAuthError(tt.authError)
			q := valid()
			if tt.modify != nil {
				tt.modify(q)
			}
			cb, err := tp.Authorize(authURL(tp, q))
			require.NoError(err)
			assert.True(strings.HasPrefix(cb.String(), testRedirectURL))
			assert.Equal(q.Get("state"), cb.Query().Get("state"))
			if tt.wantError != "" {
				assert.Equal(tt.wantError, cb.Query().Get("error"))
				assert.Empty(cb.Query().Get("code"))
				return
			}
			assert.Empty(cb.Query().Get("error"))
			assert.NotEmpty(cb.Query().Get("code"))
		})
	}
}

func TestTestProvider_Token(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	tp.SetTokenLifetimes(time.Minute, time.Hour)
	c := tp.httpServer.Client()
	tokenURL := tp.Issuer("acme") + "/openid-connect/token"

	resp, err := c.PostForm(tokenURL, url.Values{"grant_type": {"password"}})
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	issued := tp.IssueTokens(t, "acme")
	assert.Equal(int64(60), issued.ExpiresIn)
	assert.Equal(int64(3600), issued.RefreshExpiresIn)

	// refresh tokens are bound to their project
	resp, err = c.PostForm(tp.Issuer("other")+"/openid-connect/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"portal"},
		"refresh_token": {string(issued.RefreshToken)},
	})
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, err = c.PostForm(tokenURL, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"portal"},
		"refresh_token": {string(issued.RefreshToken)},
	})
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var body TokenResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	id, err := DecodeClaims(string(body.AccessToken))
	require.NoError(err)
	assert.Equal("alice", id.Username)
	assert.True(tp.Revoked(string(issued.RefreshToken)))
	assert.Equal(2, tp.RefreshCount())
}
