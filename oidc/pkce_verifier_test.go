// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUnreserved = regexp.MustCompile(`^[A-Za-z0-9\-._~]+$`)

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier()
		require.NoError(err)
		assert.Len(got.Verifier(), DefaultVerifierLen)
		assert.Equal(S256, got.Method())

		challenge, err := CreateCodeChallenge(S256, got)
		require.NoError(err)
		assert.Equal(challenge, got.Challenge())
	})
	t.Run("WithVerifierLength", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier(WithVerifierLength(MaxVerifierLen))
		require.NoError(err)
		assert.Len(got.Verifier(), MaxVerifierLen)
	})
	t.Run("invalid-length", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier(WithVerifierLength(12))
		require.Error(err)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
	t.Run("copy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		cp := v.Copy()
		assert.Equal(v.Verifier(), cp.Verifier())
		assert.Equal(v.Challenge(), cp.Challenge())
		assert.Equal(v.Method(), cp.Method())
	})
}

func TestGenerateVerifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		length    int
		wantErr   bool
		wantIsErr error
	}{
		{name: "min", length: MinVerifierLen},
		{name: "default", length: DefaultVerifierLen},
		{name: "max", length: MaxVerifierLen},
		{name: "too-short", length: MinVerifierLen - 1, wantErr: true, wantIsErr: ErrInvalidParameter},
		{name: "too-long", length: MaxVerifierLen + 1, wantErr: true, wantIsErr: ErrInvalidParameter},
		{name: "zero", length: 0, wantErr: true, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := GenerateVerifier(tt.length)
			if tt.wantErr {
				require.Error(err)
				assert.Empty(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Len(got, tt.length)
			assert.Regexp(testUnreserved, got)
		})
	}
}

func TestDeriveChallenge(t *testing.T) {
	t.Parallel()
	calcHash := func(data []byte) string {
		h := sha256.New()
		_, _ = h.Write(data)
		sum := h.Sum(nil)
		return base64.RawURLEncoding.EncodeToString(sum)
	}
	t.Run("S256-rfc7636-appendix-b", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := DeriveChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", S256)
		require.NoError(err)
		assert.Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", got)
	})
	t.Run("S256-properties", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		const samples = 2000
		seen := make(map[string]string, samples)
		for i := 0; i < samples; i++ {
			length := MinVerifierLen + i%(MaxVerifierLen-MinVerifierLen+1)
			v, err := GenerateVerifier(length)
			require.NoError(err)

			c1, err := DeriveChallenge(v, S256)
			require.NoError(err)
			c2, err := DeriveChallenge(v, S256)
			require.NoError(err)

			assert.Equal(c1, c2, "challenge must be deterministic")
			assert.Len(c1, 43)
			assert.NotContains(c1, "=")
			assert.Equal(calcHash([]byte(v)), c1)
			if prev, ok := seen[c1]; ok {
				assert.Equalf(prev, v, "collision between %q and %q", prev, v)
			}
			seen[c1] = v
		}
	})
	t.Run("plain", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := GenerateVerifier(MinVerifierLen)
		require.NoError(err)
		got, err := DeriveChallenge(v, Plain)
		require.NoError(err)
		assert.Equal(v, got)
	})
	t.Run("unsupported-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := DeriveChallenge("verifier", ChallengeMethod("S512"))
		require.Error(err)
		assert.Empty(got)
		assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
	})
}

func TestCreateCodeChallenge(t *testing.T) {
	t.Parallel()
	t.Run("invalid-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(ChallengeMethod("S512"), v)
		require.Error(err)
		assert.Empty(challenge)
		assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
	})
	t.Run("nil-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		challenge, err := CreateCodeChallenge(S256, nil)
		require.Error(err)
		assert.Empty(challenge)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}
