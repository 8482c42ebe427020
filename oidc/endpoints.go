// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Endpoints are the per-project endpoints of the authorization server.
type Endpoints struct {
	AuthURL       string
	TokenURL      string
	RevocationURL string
}

// Issuer returns the base URL of project's endpoints, which is also the
// issuer advertised by its discovery document.
func (c *Config) Issuer(project string) (string, error) {
	const op = "Config.Issuer"
	if strings.TrimSpace(project) == "" {
		return "", fmt.Errorf("%s: project is empty: %w", op, ErrInvalidParameter)
	}
	parts := []string{c.ServerURL}
	if c.AuthPrefix != "" {
		parts = append(parts, c.AuthPrefix)
	}
	parts = append(parts, "project", url.PathEscape(project))
	return strings.Join(parts, "/"), nil
}

// ProjectEndpoints derives project's endpoints from the server's fixed URL
// layout.
func (c *Config) ProjectEndpoints(project string) (*Endpoints, error) {
	const op = "Config.ProjectEndpoints"
	issuer, err := c.Issuer(project)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	base := issuer + "/openid-connect/"
	return &Endpoints{
		AuthURL:       base + "auth",
		TokenURL:      base + "token",
		RevocationURL: base + "revoke",
	}, nil
}

// endpointResolver returns the endpoints for a project, from discovery when
// enabled. Discovered endpoints are cached per project.
type endpointResolver struct {
	cfg   *Config
	mu    sync.Mutex
	cache map[string]*Endpoints
}

func newEndpointResolver(c *Config) *endpointResolver {
	return &endpointResolver{cfg: c, cache: map[string]*Endpoints{}}
}

// resolve returns project's endpoints. ctx must carry the http client to use
// for discovery (see HTTPClientContext).
func (r *endpointResolver) resolve(ctx context.Context, project string) (*Endpoints, error) {
	const op = "endpointResolver.resolve"
	if !r.cfg.Discovery {
		return r.cfg.ProjectEndpoints(project)
	}
	r.mu.Lock()
	e, ok := r.cache[project]
	r.mu.Unlock()
	if ok {
		return e, nil
	}

	issuer, err := r.cfg.Issuer(project)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: discovery failed for %s: %w: %w", op, issuer, ErrServerUnavailable, err)
	}
	var extra struct {
		RevocationURL string `json:"revocation_endpoint"`
	}
	if err := p.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	derived, err := r.cfg.ProjectEndpoints(project)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e = &Endpoints{
		AuthURL:       p.Endpoint().AuthURL,
		TokenURL:      p.Endpoint().TokenURL,
		RevocationURL: extra.RevocationURL,
	}
	if e.RevocationURL == "" {
		e.RevocationURL = derived.RevocationURL
	}

	r.mu.Lock()
	r.cache[project] = e
	r.mu.Unlock()
	return e, nil
}
