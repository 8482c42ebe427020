// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package memory_test

import (
	"context"
	"testing"

	"github.com/hashicorp/authflow/oidc"
	"github.com/hashicorp/authflow/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ oidc.BatchStorage = (*memory.Storage)(nil)

func TestStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("get-set-remove", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := memory.New()

		_, ok, err := s.Get(ctx, "alice")
		require.NoError(err)
		assert.False(ok)

		require.NoError(s.Set(ctx, "alice", "bob"))
		got, ok, err := s.Get(ctx, "alice")
		require.NoError(err)
		assert.True(ok)
		assert.Equal("bob", got)

		require.NoError(s.Remove(ctx, "alice"))
		require.NoError(s.Remove(ctx, "alice"))
		assert.Equal(0, s.Len())
	})
	t.Run("batch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := memory.New()
		require.NoError(s.SetMany(ctx, map[string]string{"a": "1", "b": "2", "c": "3"}))
		assert.Equal(map[string]string{"a": "1", "b": "2", "c": "3"}, s.Snapshot())

		require.NoError(s.RemoveMany(ctx, "a", "b", "missing"))
		assert.Equal(map[string]string{"c": "3"}, s.Snapshot())
	})
}
