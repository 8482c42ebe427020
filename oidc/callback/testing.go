// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/authflow/oidc"
	"github.com/hashicorp/authflow/storage/memory"
	"github.com/stretchr/testify/require"
)

const testRedirectURL = "https://portal.example.com/callback"

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(res *oidc.CallbackResult, w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// testNewController creates a Controller for the TestProvider (tp) backed by
// memory storage. This is helpful internally, but intentionally not exported.
func testNewController(t *testing.T, tp *oidc.TestProvider, opt ...oidc.Option) (*oidc.Controller, *memory.Storage) {
	const op = "testNewController"
	t.Helper()
	require := require.New(t)
	require.NotNilf(tp, "%s: test provider is nil", op)

	opt = append([]oidc.Option{oidc.WithProviderCA(tp.CACert()), oidc.WithLoginPath("/login")}, opt...)
	c, err := oidc.NewConfig(tp.Addr(), "portal", testRedirectURL, opt...)
	require.NoError(err)
	durable := memory.New()
	ctrl, err := oidc.NewController(c, durable, memory.New())
	require.NoError(err)
	return ctrl, durable
}

// testServe runs h for req and returns the recorded response.
func testServe(h http.Handler, req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}
