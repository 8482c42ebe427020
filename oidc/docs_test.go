// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/authflow/oidc"
	"github.com/hashicorp/authflow/storage/memory"
)

func Example() {
	// Create a new Config
	c, err := oidc.NewConfig(
		"https://auth.example.com",
		"portal",
		"https://portal.example.com/callback",
	)
	if err != nil {
		// handle error
	}

	// Create a controller. Tokens survive restarts in durable storage, while
	// the state of a pending login can live in memory.
	durable, attempt := memory.New(), memory.New()
	ctrl, err := oidc.NewController(c, durable, attempt)
	if err != nil {
		// handle error
	}

	// Guard a page
	http.HandleFunc("/user/project/acme/sessions", func(w http.ResponseWriter, r *http.Request) {
		g, err := ctrl.EnsureAuthenticated(r.Context(), "acme", r.URL.Path)
		if err != nil {
			// the server is unavailable, the session is kept
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !g.Authenticated() {
			http.Redirect(w, r, g.LoginURL, http.StatusFound)
			return
		}
		fmt.Fprintln(w, "welcome")
	})

	// Handle the authorization server's redirect
	http.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := ctrl.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
		switch {
		case err != nil && res != nil:
			// CSRF or a rejected code: start over
			http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		}
	})
}

func ExampleNewConfig() {
	c, err := oidc.NewConfig(
		"https://auth.example.com/",
		"portal",
		"https://portal.example.com/callback",
		oidc.WithScopes("email", "profile"),
	)
	if err != nil {
		// handle error
	}
	fmt.Println(c.ServerURL)
	fmt.Println(c.Scopes)
	fmt.Println(c.Timeout)

	// Output:
	// https://auth.example.com
	// [openid email profile]
	// 10s
}

func ExampleConfig_ProjectEndpoints() {
	c, err := oidc.NewConfig("https://auth.example.com", "portal", "https://portal.example.com/callback")
	if err != nil {
		// handle error
	}
	e, err := c.ProjectEndpoints("acme")
	if err != nil {
		// handle error
	}
	fmt.Println(e.AuthURL)
	fmt.Println(e.TokenURL)
	fmt.Println(e.RevocationURL)

	// Output:
	// https://auth.example.com/api/v1/project/acme/openid-connect/auth
	// https://auth.example.com/api/v1/project/acme/openid-connect/token
	// https://auth.example.com/api/v1/project/acme/openid-connect/revoke
}

func ExampleDeriveChallenge() {
	challenge, err := oidc.DeriveChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", oidc.S256)
	if err != nil {
		// handle error
	}
	fmt.Println(challenge)

	// Output:
	// E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM
}

func ExampleRedirectTracker_Target() {
	r, err := oidc.NewRedirectTracker(memory.New())
	if err != nil {
		// handle error
	}
	fmt.Println(r.Target("/user/project/acme/sessions"))
	fmt.Println(r.Target("/admin"))

	// Output:
	// /user/project/acme/info
	// /
}

func ExampleController_RequireRole() {
	c, _ := oidc.NewConfig("https://auth.example.com", "portal", "https://portal.example.com/callback")
	ctrl, _ := oidc.NewController(c, memory.New(), memory.New())

	err := ctrl.RequireRole(context.Background(), oidc.ResourceSystemManagement, "read-project")
	switch {
	case errors.Is(err, oidc.ErrNotAuthenticated):
		fmt.Println("login first")
	case errors.Is(err, oidc.ErrAuthorization):
		fmt.Println("forbidden")
	}

	// Output:
	// login first
}
