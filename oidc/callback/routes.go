// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hashicorp/authflow/oidc"
)

const (
	// ProjectParam is the form value Login and QueryProject read the project
	// from.
	ProjectParam = "project"

	// FromParam is the form value Login reads the denied page from.
	FromParam = "from"
)

// ProjectFunc returns the project a request is scoped to, or "" when it
// cannot tell.
type ProjectFunc func(req *http.Request) string

// QueryProject reads the project from the "project" form value.
func QueryProject(req *http.Request) string {
	return strings.TrimSpace(req.FormValue(ProjectParam))
}

// MuxProject reads the project from the named route variable of a
// gorilla/mux route, such as "/user/project/{project}".
func MuxProject(name string) ProjectFunc {
	return func(req *http.Request) string {
		return mux.Vars(req)[name]
	}
}

// Login creates a handler which starts a login for the project of the request
// and redirects the user to the authorization server. Requests without a
// project are sent to the configured login page.
func Login(c *oidc.Controller, projectFn ProjectFunc) (http.HandlerFunc, error) {
	const op = "callback.Login"
	if c == nil {
		return nil, fmt.Errorf("%s: controller is nil: %w", op, oidc.ErrNilParameter)
	}
	if projectFn == nil {
		projectFn = QueryProject
	}
	return func(w http.ResponseWriter, req *http.Request) {
		project := projectFn(req)
		if project == "" {
			http.Redirect(w, req, c.Config().LoginPath, http.StatusFound)
			return
		}
		authURL, err := c.Login(req.Context(), project, req.FormValue(FromParam))
		if err != nil {
			DefaultError(nil, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}

// Logout creates a handler which ends the session and sends the user to the
// configured login page. Local state is cleared even when revocation fails.
func Logout(c *oidc.Controller) (http.HandlerFunc, error) {
	const op = "callback.Logout"
	if c == nil {
		return nil, fmt.Errorf("%s: controller is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if err := c.Logout(req.Context()); err != nil {
			DefaultError(nil, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		http.Redirect(w, req, c.Config().LoginPath, http.StatusFound)
	}, nil
}

// RequireAuth is the page guard middleware. Requests with a usable session
// reach next with the access token in their context; the others are
// redirected to the authorization server, or to the login page when no
// project is known. It answers 503 while the authorization server is
// unavailable.
func RequireAuth(c *oidc.Controller, projectFn ProjectFunc) (func(http.Handler) http.Handler, error) {
	const op = "callback.RequireAuth"
	if c == nil {
		return nil, fmt.Errorf("%s: controller is nil: %w", op, oidc.ErrNilParameter)
	}
	if projectFn == nil {
		projectFn = QueryProject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			g, err := c.EnsureAuthenticated(req.Context(), projectFn(req), req.URL.Path)
			if err != nil {
				DefaultError(nil, nil, fmt.Errorf("%s: %w", op, err), w, req)
				return
			}
			if !g.Authenticated() {
				http.Redirect(w, req, g.LoginURL, http.StatusFound)
				return
			}
			next.ServeHTTP(w, req.WithContext(WithAccessToken(req.Context(), g.AccessToken)))
		})
	}, nil
}

// RequireRole is the role guard middleware. It answers 403 unless the session
// grants every one of roles under resourceKey. It never starts a login, so it
// belongs behind RequireAuth.
func RequireRole(c *oidc.Controller, resourceKey string, roles ...string) (func(http.Handler) http.Handler, error) {
	const op = "callback.RequireRole"
	if c == nil {
		return nil, fmt.Errorf("%s: controller is nil: %w", op, oidc.ErrNilParameter)
	}
	if resourceKey == "" {
		return nil, fmt.Errorf("%s: resource key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			err := c.RequireRole(req.Context(), resourceKey, roles...)
			switch {
			case err == nil:
				next.ServeHTTP(w, req)
			case errors.Is(err, oidc.ErrAuthorization), errors.Is(err, oidc.ErrNotAuthenticated):
				writeError(w, http.StatusForbidden, &AuthenErrorResponse{
					Error:       "access_denied",
					Description: err.Error(),
				})
			default:
				DefaultError(nil, nil, fmt.Errorf("%s: %w", op, err), w, req)
			}
		})
	}, nil
}
