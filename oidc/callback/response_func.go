// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/authflow/oidc"
)

// SuccessResponseFunc is used by AuthCode to create a http response when the
// login completed.
//
// The result carries the target to restore and the identity of the user. The
// function should use the http.ResponseWriter to send back whatever content
// (headers, html, JSON, etc) it wishes to the client.
type SuccessResponseFunc func(res *oidc.CallbackResult, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by AuthCode to create a http response when the
// login failed.
//
// respErr is set when the authorization server answered with an error
// response. e is set when handling the response failed. res is set, with
// RedirectTo pointing at the login page, when the user should start over.
type ErrorResponseFunc func(respErr *AuthenErrorResponse, res *oidc.CallbackResult, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

// RedirectSuccess sends the user to the restored target.
func RedirectSuccess(res *oidc.CallbackResult, w http.ResponseWriter, req *http.Request) {
	target := oidc.DefaultLandingPath
	if res != nil && res.RedirectTo != "" {
		target = res.RedirectTo
	}
	http.Redirect(w, req, target, http.StatusFound)
}

// DefaultError sends the user back to the login page when the login must start
// over, answers 503 while the authorization server is unavailable and 401 for
// authorization error responses.
func DefaultError(respErr *AuthenErrorResponse, res *oidc.CallbackResult, e error, w http.ResponseWriter, req *http.Request) {
	switch {
	case res != nil && res.RedirectTo != "":
		http.Redirect(w, req, res.RedirectTo, http.StatusFound)
	case e != nil && errors.Is(e, oidc.ErrServerUnavailable):
		writeError(w, http.StatusServiceUnavailable, &AuthenErrorResponse{
			Error:       "temporarily_unavailable",
			Description: e.Error(),
		})
	case respErr != nil:
		writeError(w, http.StatusUnauthorized, respErr)
	case e != nil:
		writeError(w, http.StatusInternalServerError, &AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
	default:
		writeError(w, http.StatusInternalServerError, &AuthenErrorResponse{Error: "unknown-callback-error"})
	}
}

func writeError(w http.ResponseWriter, status int, r *AuthenErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(r)
}
