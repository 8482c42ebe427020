// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClaims(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	valid := TestAccessToken(t, priv, "u-1", "alice", map[string][]string{
		ResourceSystemManagement: {"read-project", "write-project"},
		ResourceUser:             {"read-self"},
	}, time.Minute)
	// decoding never depends on expiry
	expired := TestAccessToken(t, priv, "u-2", "bob", nil, -time.Hour)

	b64 := base64.RawURLEncoding.EncodeToString
	tests := []struct {
		name         string
		token        string
		wantSubject  string
		wantUsername string
		wantIsErr    error
	}{
		{name: "valid", token: valid, wantSubject: "u-1", wantUsername: "alice"},
		{name: "expired", token: expired, wantSubject: "u-2", wantUsername: "bob"},
		{name: "empty", wantIsErr: ErrMalformedToken},
		{name: "garbage", token: "not-a-token", wantIsErr: ErrMalformedToken},
		{
			name:      "payload-not-json",
			token:     b64([]byte(`{"alg":"ES256"}`)) + "." + b64([]byte("nope")) + "." + b64([]byte("sig")),
			wantIsErr: ErrMalformedToken,
		},
		{
			name:      "unsupported-alg",
			token:     b64([]byte(`{"alg":"none"}`)) + "." + b64([]byte(`{"sub":"u"}`)) + ".",
			wantIsErr: ErrMalformedToken,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := DecodeClaims(tt.token)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantSubject, got.Subject)
			assert.Equal(tt.wantUsername, got.Username)
			assert.Equal(tt.wantSubject, got.Claims["sub"])
		})
	}
}

func TestIdentityClaims_Roles(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	_, priv := TestGenerateKeys(t)
	tk := TestAccessToken(t, priv, "u-1", "alice", map[string][]string{
		ResourceSystemManagement: {"write-project", "read-project"},
	}, time.Minute)
	id, err := DecodeClaims(tk)
	require.NoError(err)

	roles := id.Roles(ResourceSystemManagement)
	assert.Equal([]string{"read-project", "write-project"}, roles.List())
	assert.True(roles.ContainsAll("read-project", "write-project"))
	assert.Equal([]string{"delete-project"}, roles.Missing("read-project", "delete-project"))

	assert.Empty(id.Roles(ResourceUser))

	var nilID *IdentityClaims
	assert.Empty(nilID.Roles(ResourceUser))
}

func TestExtractRoles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		claims map[string]interface{}
		key    string
		want   []string
	}{
		{name: "nil-claims", key: "user", want: []string{}},
		{name: "no-resource-access", claims: map[string]interface{}{"sub": "u"}, key: "user", want: []string{}},
		{
			name:   "wrong-type",
			claims: map[string]interface{}{"resource_access": "user"},
			key:    "user",
			want:   []string{},
		},
		{
			name: "missing-key",
			claims: map[string]interface{}{"resource_access": map[string]interface{}{
				"other": map[string]interface{}{"roles": []interface{}{"a"}},
			}},
			key:  "user",
			want: []string{},
		},
		{
			name: "roles-not-list",
			claims: map[string]interface{}{"resource_access": map[string]interface{}{
				"user": map[string]interface{}{"roles": "a"},
			}},
			key:  "user",
			want: []string{},
		},
		{
			name: "mixed-values",
			claims: map[string]interface{}{"resource_access": map[string]interface{}{
				"user": map[string]interface{}{"roles": []interface{}{"b", 1, "", "a", "b"}},
			}},
			key:  "user",
			want: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractRoles(tt.claims, tt.key)
			assert.Equal(t, tt.want, got.List())
		})
	}
}
