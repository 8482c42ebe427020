// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local authorization server for tests. It serves the
// per-project auth, token, revoke and discovery endpoints under
// DefaultAuthPrefix over TLS, verifies PKCE during code exchange and mints
// ES256 access tokens carrying resource_access roles.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	signer     jose.Signer
	jwks       *jose.JSONWebKeySet

	mu              sync.Mutex
	clientID        string
	subject         string
	username        string
	roles           map[string][]string
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	authError       string
	tokenStatus     int
	revokeStatus    int
	delay           time.Duration
	malformedAccess bool
	codes           map[string]*testAuthRequest
	refreshTokens   map[string]string
	revoked         map[string]bool
	lastTokenForm   url.Values
	exchangeCount   int
	refreshCount    int
	revokeCount     int

	ecdsaPublicKey  string
	ecdsaPrivateKey string
}

// testAuthRequest is what the auth endpoint remembers about an issued code.
type testAuthRequest struct {
	project     string
	challenge   string
	method      string
	redirectURI string
	state       string
	alreadyUsed bool
}

// StartTestProvider creates a disposable TestProvider, stopped when the test
// ends.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:        "portal",
		subject:         "d0f1a8e2-2c4b-4f3e-9a53-1f2b2c3d4e5f",
		username:        "alice",
		roles:           map[string][]string{},
		accessLifetime:  5 * time.Minute,
		refreshLifetime: 30 * time.Minute,
		codes:           map[string]*testAuthRequest{},
		refreshTokens:   map[string]string{},
		revoked:         map[string]bool{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	block, _ := pem.Decode([]byte(p.ecdsaPrivateKey))
	require.NotNil(block)
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(err)
	p.signer, err = jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	p.httpServer = httptest.NewUnstartedServer(p.router())
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// Issuer returns the issuer of project.
func (p *TestProvider) Issuer(project string) string {
	return p.Addr() + "/" + DefaultAuthPrefix + "/project/" + url.PathEscape(project)
}

// SetClientID configures the only client id the provider accepts.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetUser configures the identity and roles embedded in issued access tokens.
func (p *TestProvider) SetUser(subject, username string, roles map[string][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject, p.username, p.roles = subject, username, roles
}

// SetTokenLifetimes configures expires_in and refresh_expires_in of issued
// tokens.
func (p *TestProvider) SetTokenLifetimes(access, refresh time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessLifetime, p.refreshLifetime = access, refresh
}

// SetAuthError makes the auth endpoint redirect back with the error code
// instead of an authorization code. An empty code restores normal behavior.
func (p *TestProvider) SetAuthError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
}

// SetTokenStatus makes the token endpoint fail every request with status. Zero
// restores normal behavior.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetRevokeStatus makes the revoke endpoint fail every request with status.
// Zero restores normal behavior.
func (p *TestProvider) SetRevokeStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeStatus = status
}

// SetDelay delays every token and revoke response.
func (p *TestProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// SetMalformedAccessTokens makes issued access tokens undecodable.
func (p *TestProvider) SetMalformedAccessTokens(malformed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malformedAccess = malformed
}

// ExchangeCount returns the number of authorization_code grants received.
func (p *TestProvider) ExchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCount
}

// RefreshCount returns the number of refresh_token grants received.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// RevokeCount returns the number of revocation requests received.
func (p *TestProvider) RevokeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revokeCount
}

// Revoked reports whether refreshToken was revoked.
func (p *TestProvider) Revoked(refreshToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked[refreshToken]
}

// LastTokenForm returns the form of the last token endpoint request.
func (p *TestProvider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// IssueTokens mints a token set for project as if a login had completed.
func (p *TestProvider) IssueTokens(t *testing.T, project string) *TokenResponse {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, err := p.issue(project)
	require.NoError(t, err)
	return resp
}

// Authorize performs the user agent's side of an authorization request: it
// requests authURL and returns the callback URL the provider redirected to.
func (p *TestProvider) Authorize(authURL string) (*url.URL, error) {
	const op = "TestProvider.Authorize"
	c := p.httpServer.Client()
	noFollow := *c
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := noFollow.Get(authURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, body)
	}
	return resp.Location()
}

func (p *TestProvider) router() http.Handler {
	r := mux.NewRouter()
	s := r.PathPrefix("/" + DefaultAuthPrefix + "/project/{project}").Subrouter()
	s.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery).Methods(http.MethodGet)
	s.HandleFunc("/openid-connect/auth", p.handleAuth).Methods(http.MethodGet)
	s.HandleFunc("/openid-connect/token", p.handleToken).Methods(http.MethodPost)
	s.HandleFunc("/openid-connect/revoke", p.handleRevoke).Methods(http.MethodPost)
	s.HandleFunc("/openid-connect/certs", p.handleCerts).Methods(http.MethodGet)
	return r
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	issuer := p.Issuer(mux.Vars(req)["project"])
	reply := struct {
		Issuer             string   `json:"issuer"`
		AuthEndpoint       string   `json:"authorization_endpoint"`
		TokenEndpoint      string   `json:"token_endpoint"`
		RevocationEndpoint string   `json:"revocation_endpoint"`
		JWKSURI            string   `json:"jwks_uri"`
		ChallengeMethods   []string `json:"code_challenge_methods_supported"`
	}{
		Issuer:             issuer,
		AuthEndpoint:       issuer + "/openid-connect/auth",
		TokenEndpoint:      issuer + "/openid-connect/token",
		RevocationEndpoint: issuer + "/openid-connect/revoke",
		JWKSURI:            issuer + "/openid-connect/certs",
		ChallengeMethods:   []string{string(S256), string(Plain)},
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) handleCerts(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.jwks)
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	qv := req.URL.Query()
	switch {
	case qv.Get("redirect_uri") == "":
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	case p.authError != "":
		p.writeAuthErrorResponse(w, req, p.authError, "")
		return
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing code_challenge parameter")
		return
	}
	method := qv.Get("code_challenge_method")
	if method == "" {
		method = string(Plain)
	}

	code, err := uuid.GenerateUUID()
	if err != nil {
		p.writeAuthErrorResponse(w, req, "server_error", err.Error())
		return
	}
	p.codes[code] = &testAuthRequest{
		project:     mux.Vars(req)["project"],
		challenge:   qv.Get("code_challenge"),
		method:      method,
		redirectURI: qv.Get("redirect_uri"),
		state:       qv.Get("state"),
	}
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&code=" + url.QueryEscape(code)
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	_ = req.ParseForm()
	p.wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTokenForm = req.PostForm
	project := mux.Vars(req)["project"]

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCount++
	case "refresh_token":
		p.refreshCount++
	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}
	if p.tokenStatus != 0 {
		p.writeTokenErrorResponse(w, p.tokenStatus, "temporarily_unavailable", "forced failure")
		return
	}
	if req.PostForm.Get("client_id") != p.clientID {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		ar, ok := p.codes[req.PostForm.Get("code")]
		switch {
		case !ok || ar.alreadyUsed || ar.project != project:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case req.PostForm.Get("redirect_uri") != ar.redirectURI:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		case req.PostForm.Get("state") != ar.state:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "state mismatch")
			return
		}
		ar.alreadyUsed = true
		challenge, err := DeriveChallenge(req.PostForm.Get("code_verifier"), ChallengeMethod(ar.method))
		if err != nil || challenge != ar.challenge {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	case "refresh_token":
		rt := req.PostForm.Get("refresh_token")
		owner, ok := p.refreshTokens[rt]
		if !ok || owner != project || p.revoked[rt] {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is not active")
			return
		}
		// rotate
		p.revoked[rt] = true
	}

	resp, err := p.issue(project)
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.writeJSON(w, http.StatusOK, struct {
		AccessToken      string `json:"access_token"`
		ExpiresIn        int64  `json:"expires_in"`
		RefreshToken     string `json:"refresh_token"`
		RefreshExpiresIn int64  `json:"refresh_expires_in"`
		TokenType        string `json:"token_type"`
		IdToken          string `json:"id_token,omitempty"`
	}{
		AccessToken:      string(resp.AccessToken),
		ExpiresIn:        resp.ExpiresIn,
		RefreshToken:     string(resp.RefreshToken),
		RefreshExpiresIn: resp.RefreshExpiresIn,
		TokenType:        resp.TokenType,
		IdToken:          string(resp.IdToken),
	})
}

func (p *TestProvider) handleRevoke(w http.ResponseWriter, req *http.Request) {
	_ = req.ParseForm()
	p.wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeCount++
	if p.revokeStatus != 0 {
		p.writeTokenErrorResponse(w, p.revokeStatus, "temporarily_unavailable", "forced failure")
		return
	}
	if req.PostForm.Get("token_type_hint") != "refresh_token" || req.PostForm.Get("refresh_token") == "" {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
		return
	}
	p.revoked[req.PostForm.Get("refresh_token")] = true
	w.WriteHeader(http.StatusOK)
}

// wait applies the configured response delay without holding the lock.
func (p *TestProvider) wait() {
	p.mu.Lock()
	d := p.delay
	p.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// issue mints and registers a token set for project. The lock must be held.
func (p *TestProvider) issue(project string) (*TokenResponse, error) {
	const op = "TestProvider.issue"
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    p.Issuer(project),
		Subject:   p.subject,
		Audience:  jwt.Audience{p.clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.accessLifetime)),
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims.ID = id
	access, err := jwt.Signed(p.signer).Claims(claims).Claims(accessTokenClaims(p.username, p.roles)).Serialize()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	idToken := access
	if p.malformedAccess {
		access = "malformed." + id
	}
	refresh, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.refreshTokens[refresh] = project
	return &TokenResponse{
		AccessToken:      AccessToken(access),
		ExpiresIn:        int64(p.accessLifetime / time.Second),
		RefreshToken:     RefreshToken(refresh),
		RefreshExpiresIn: int64(p.refreshLifetime / time.Second),
		TokenType:        "Bearer",
		IdToken:          IdToken(idToken),
	}, nil
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)
	if _, ok := pub.(*ecdsa.PublicKey); !ok {
		require.NoError(errors.New("public key is not ECDSA"))
	}

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
