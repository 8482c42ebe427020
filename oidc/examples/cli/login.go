// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/authflow/oidc"
	"github.com/hashicorp/authflow/oidc/callback"
)

const successHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Signed in</title></head>
<body>
<p>Signed in. You can close this window and return to the terminal.</p>
</body>
</html>
`

// loginResult is what the callback handlers report back to runLogin.
type loginResult struct {
	res *oidc.CallbackResult
	err error
}

// runLogin starts a login against project, hands the authorization URL to
// open and serves the callback on l until the login completes, ctx is done or
// timeout elapses.
func runLogin(ctx context.Context, c *oidc.Controller, l net.Listener, project string, timeout time.Duration, open func(string) error) (*oidc.CallbackResult, error) {
	const op = "runLogin"
	doneCh := make(chan loginResult, 1)

	successFn := func(res *oidc.CallbackResult, w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(successHTML))
		report(doneCh, loginResult{res: res})
	}
	errorFn := func(r *callback.AuthenErrorResponse, res *oidc.CallbackResult, e error, w http.ResponseWriter, req *http.Request) {
		if e == nil && r != nil {
			e = fmt.Errorf("authorization server error %q: %s: %w", r.Error, r.Description, oidc.ErrLoginFailed)
		}
		if e == nil {
			e = fmt.Errorf("unknown error from callback: %w", oidc.ErrLoginFailed)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(e.Error()))
		report(doneCh, loginResult{err: e})
	}
	handler, err := callback.AuthCode(c, successFn, errorFn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/callback", handler).Methods(http.MethodGet)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	srvCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL, err := c.Login(ctx, project, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := open(authURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-srvCh:
		return nil, fmt.Errorf("%s: callback server closed: %w", op, err)
	case out := <-doneCh:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", op, out.err)
		}
		return out.res, nil
	case <-ctx.Done():
		_ = c.CancelLogin(context.Background())
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case <-timer.C:
		_ = c.CancelLogin(context.Background())
		return nil, fmt.Errorf("%s: timed out waiting for the authorization server: %w", op, oidc.ErrLoginFailed)
	}
}

// report delivers the first outcome only; later callbacks, such as a browser
// reloading the page, are dropped.
func report(ch chan<- loginResult, out loginResult) {
	select {
	case ch <- out:
	default:
	}
}
