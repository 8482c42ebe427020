// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/authflow/oidc"
)

// AuthCode creates an oidc authorization code callback handler which
// completes the login pending in c.
//
// Authorization error responses cancel the pending login and are handed to
// eFn. Otherwise the code is exchanged and the result is handed to sFn, or to
// eFn when the login failed.
func AuthCode(c *oidc.Controller, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if c == nil {
		return nil, fmt.Errorf("%s: controller is nil: %w", op, oidc.ErrNilParameter)
	}
	if sFn == nil {
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if reqError := req.FormValue("error"); reqError != "" {
			if err := c.CancelLogin(req.Context()); err != nil {
				eFn(nil, nil, fmt.Errorf("%s: %w", op, err), w, req)
				return
			}
			eFn(&AuthenErrorResponse{
				Error:       reqError,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}, nil, nil, w, req)
			return
		}

		res, err := c.HandleCallback(req.Context(), req.FormValue("code"), req.FormValue("state"))
		if err != nil {
			eFn(nil, res, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		sFn(res, w, req)
	}, nil
}
