// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type staticSource struct {
	token string
	err   error
}

func (s *staticSource) EnsureToken(context.Context) (string, error) { return s.token, s.err }

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	caPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	t.Run("trusts-provided-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient(caPEM, 5*time.Second)
		require.NoError(err)
		assert.Equal(5*time.Second, c.Timeout)
		resp, err := c.Get(srv.URL)
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusOK, resp.StatusCode)
	})
	t.Run("system-roots-reject-test-server", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient("", 0)
		require.NoError(err)
		assert.Zero(c.Timeout)
		_, err = c.Get(srv.URL)
		require.Error(err)
	})
	t.Run("invalid-pem", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewClient("not a pem", 0)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidCertificatePem), "wanted \"%s\" but got \"%s\"", ErrInvalidCertificatePem, err)
	})
}

func TestClientContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := &http.Client{}
	ctx := ClientContext(context.Background(), c)
	// oauth2 reads the client from the same context key
	assert.Same(c, ctx.Value(oauth2.HTTPClient))
}

func TestNewAuthorizedClient(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	t.Run("adds-bearer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewAuthorizedClient(&staticSource{token: "tk-1"}, nil)
		require.NoError(err)
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(err)
		resp, err := c.Do(req)
		require.NoError(err)
		resp.Body.Close()
		assert.Equal("Bearer tk-1", gotAuth)
		assert.Empty(req.Header.Get("Authorization"), "caller's request is not modified")
	})
	t.Run("source-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		sourceErr := errors.New("not authenticated")
		c, err := NewAuthorizedClient(&staticSource{err: sourceErr}, nil)
		require.NoError(err)
		_, err = c.Get(srv.URL)
		require.Error(err)
		assert.Truef(errors.Is(err, sourceErr), "wanted \"%s\" but got \"%s\"", sourceErr, err)
	})
	t.Run("nil-source", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewAuthorizedClient(nil, nil)
		require.Error(err)
		assert.True(errors.Is(err, ErrNilTokenSource))
	})
}

func TestBearerTransport_RoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name      string
		source    TokenSource
		wantIsErr error
	}{
		{name: "source-error", source: &staticSource{err: ErrNilTokenSource}, wantIsErr: ErrNilTokenSource},
		{name: "nil-source", wantIsErr: ErrNilTokenSource},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name+"-closes-body", func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			body := &trackedBody{Reader: strings.NewReader("payload")}
			req, err := http.NewRequest(http.MethodPost, srv.URL, body)
			require.NoError(err)
			tr := &BearerTransport{Source: tt.source}
			_, err = tr.RoundTrip(req)
			require.Error(err)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			assert.True(body.closed)
		})
	}

	t.Run("default-base-is-shared", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		a := &BearerTransport{Source: &staticSource{token: "tk-1"}}
		b := &BearerTransport{Source: &staticSource{token: "tk-2"}}
		assert.Same(a.base(), b.base())
		assert.Same(a.base(), a.base())

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(err)
		resp, err := a.RoundTrip(req)
		require.NoError(err)
		resp.Body.Close()
		assert.Equal(http.StatusNoContent, resp.StatusCode)
	})
	t.Run("explicit-base", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		base := &http.Transport{}
		tr := &BearerTransport{Source: &staticSource{token: "tk"}, Base: base}
		assert.Same(base, tr.base())
	})
}
