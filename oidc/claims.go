// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"sort"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Resource keys under the "resource_access" claim which carry role lists.
const (
	ResourceSystemManagement = "system_management"
	ResourceUser             = "user"
)

// decodeAlgs are the algorithms a token may declare. Claims are only decoded
// for display and role checks; the API server verifies signatures.
var decodeAlgs = []jose.SignatureAlgorithm{
	jose.EdDSA,
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}

// IdentityClaims is the identity carried by an access token.
type IdentityClaims struct {
	// Subject is the "sub" claim.
	Subject string

	// Username is the "preferred_username" claim.
	Username string

	// Claims holds every claim of the payload.
	Claims map[string]interface{}
}

// Roles returns the roles granted for resourceKey.
func (c *IdentityClaims) Roles(resourceKey string) RoleSet {
	if c == nil {
		return RoleSet{}
	}
	return ExtractRoles(c.Claims, resourceKey)
}

// DecodeClaims decodes the payload of a compact JWS access token without
// verifying its signature. ErrMalformedToken is returned when the token is not
// a decodable JWT.
func DecodeClaims(accessToken string) (*IdentityClaims, error) {
	const op = "oidc.DecodeClaims"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrMalformedToken)
	}
	tok, err := jwt.ParseSigned(accessToken, decodeAlgs)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w: %w", op, ErrMalformedToken, err)
	}
	claims := map[string]interface{}{}
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w: %w", op, ErrMalformedToken, err)
	}
	id := &IdentityClaims{Claims: claims}
	id.Subject, _ = claims["sub"].(string)
	id.Username, _ = claims["preferred_username"].(string)
	return id, nil
}

// RoleSet is a set of role names.
type RoleSet map[string]struct{}

// Contains reports whether role is in the set.
func (r RoleSet) Contains(role string) bool {
	_, ok := r[role]
	return ok
}

// ContainsAll reports whether every role is in the set.
func (r RoleSet) ContainsAll(roles ...string) bool {
	for _, role := range roles {
		if !r.Contains(role) {
			return false
		}
	}
	return true
}

// Missing returns the roles which are not in the set, in the order given.
func (r RoleSet) Missing(roles ...string) []string {
	var missing []string
	for _, role := range roles {
		if !r.Contains(role) {
			missing = append(missing, role)
		}
	}
	return missing
}

// List returns the roles sorted.
func (r RoleSet) List() []string {
	l := make([]string, 0, len(r))
	for role := range r {
		l = append(l, role)
	}
	sort.Strings(l)
	return l
}

// ExtractRoles returns the role set at resource_access.{resourceKey}.roles.
// The set is empty when any part of the path is absent or of the wrong type.
func ExtractRoles(claims map[string]interface{}, resourceKey string) RoleSet {
	roles := RoleSet{}
	access, ok := claims["resource_access"].(map[string]interface{})
	if !ok {
		return roles
	}
	resource, ok := access[resourceKey].(map[string]interface{})
	if !ok {
		return roles
	}
	list, ok := resource["roles"].([]interface{})
	if !ok {
		return roles
	}
	for _, r := range list {
		if s, ok := r.(string); ok && s != "" {
			roles[s] = struct{}{}
		}
	}
	return roles
}
