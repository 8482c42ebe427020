// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package http builds the http clients used to talk to the authorization
// server and to APIs protected by its tokens.
package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

var (
	ErrInvalidCertificatePem = errors.New("invalid certificate PEM")
	ErrNilTokenSource        = errors.New("nil token source")
)

// NewClient creates a new http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain. A positive timeout bounds every request made with the client.
func NewClient(caPEM string, timeout time.Duration) (*http.Client, error) {
	const op = "http.NewClient"
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCertificatePem)
		}

		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	c := &http.Client{
		Transport: tr,
	}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c, nil
}

// ClientContext is a helper function that returns a new Context that carries
// the provided HTTP client. This method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the returned
// context works for those packages as well.
func ClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}

// TokenSource supplies a currently valid access token.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
}

// defaultTransport is the base of every BearerTransport without one. It is
// shared so connections are pooled across requests.
var defaultTransport = sync.OnceValue(func() http.RoundTripper {
	return cleanhttp.DefaultPooledTransport()
})

// BearerTransport is an http.RoundTripper which adds an
// "Authorization: Bearer" header with a token from Source to every request.
type BearerTransport struct {
	Source TokenSource
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified and its body is closed even when no token can be had.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "BearerTransport.RoundTrip"
	if t.Source == nil {
		closeBody(req)
		return nil, fmt.Errorf("%s: %w", op, ErrNilTokenSource)
	}
	tk, err := t.Source.EnsureToken(req.Context())
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("%s: unable to get token: %w", op, err)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tk)
	return t.base().RoundTrip(r)
}

func (t *BearerTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return defaultTransport()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// NewAuthorizedClient wraps base so every request carries a bearer token
// from src. A nil base uses NewClient with no CA and no timeout.
func NewAuthorizedClient(src TokenSource, base *http.Client) (*http.Client, error) {
	const op = "http.NewAuthorizedClient"
	if src == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNilTokenSource)
	}
	if base == nil {
		var err error
		if base, err = NewClient("", 0); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &http.Client{
		Transport: &BearerTransport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
	}, nil
}
