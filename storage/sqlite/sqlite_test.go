// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hashicorp/authflow/oidc"
	"github.com/hashicorp/authflow/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ oidc.BatchStorage = (*sqlite.Storage)(nil)

func TestOpen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		path      string
		namespace string
		wantIsErr error
	}{
		{name: "valid", path: ":memory:", namespace: "default"},
		{name: "missing-path", namespace: "default", wantIsErr: sqlite.ErrInvalidParameter},
		{name: "missing-namespace", path: ":memory:", namespace: " ", wantIsErr: sqlite.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s, err := sqlite.Open(tt.path, tt.namespace)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			require.NoError(s.Close())
		})
	}
}

func TestStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	path := filepath.Join(t.TempDir(), "nested", "authflow.db")
	s, err := sqlite.Open(path, "default")
	require.NoError(err)

	_, ok, err := s.Get(ctx, oidc.KeyAccessToken)
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.Set(ctx, oidc.KeyAccessToken, "first"))
	require.NoError(s.Set(ctx, oidc.KeyAccessToken, "second"))
	got, ok, err := s.Get(ctx, oidc.KeyAccessToken)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("second", got)

	require.NoError(s.SetMany(ctx, map[string]string{
		oidc.KeyRefreshToken: "refresh",
		oidc.KeyLoginProject: "acme",
	}))
	require.NoError(s.Close())

	// values survive a reopen
	s, err = sqlite.Open(path, "default")
	require.NoError(err)
	defer s.Close()
	got, ok, err = s.Get(ctx, oidc.KeyLoginProject)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("acme", got)

	// namespaces are isolated
	other, err := sqlite.Open(path, "other")
	require.NoError(err)
	defer other.Close()
	_, ok, err = other.Get(ctx, oidc.KeyLoginProject)
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.RemoveMany(ctx, oidc.KeyAccessToken, oidc.KeyRefreshToken))
	require.NoError(s.Remove(ctx, oidc.KeyLoginProject))
	for _, k := range []string{oidc.KeyAccessToken, oidc.KeyRefreshToken, oidc.KeyLoginProject} {
		_, ok, err := s.Get(ctx, k)
		require.NoError(err)
		assert.Falsef(ok, "%s should be removed", k)
	}
}
