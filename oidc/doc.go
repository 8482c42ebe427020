// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a client for the OAuth 2.0 authorization code flow with PKCE
(RFC 7636) against a multi-project authorization server.

Primary types provided by the package

* Config: the client's configuration (server URL, client id, redirect URL,
scopes, timeout, optional CA and discovery).

* Controller: drives the flow. Login builds the authorization URL and persists
a LoginAttempt; HandleCallback validates the CSRF state, exchanges the code
with the PKCE verifier and stores the tokens; EnsureToken returns a valid
access token, refreshing it on demand with at most one refresh in flight;
Logout revokes and clears the session.

* TokenStore: persists the TokenSet with absolute expiries through a Storage.

* RedirectTracker: remembers where to send a user once login completes.

* IdentityClaims and RoleSet: identity and roles decoded from an access token.

* Storage: the key/value capability everything persists through. See the
storage/memory and storage/sqlite packages.

Errors are sentinels to be matched with errors.Is. Failed requests to the
server are *TokenError values which also match their kind: ErrExchangeRejected,
ErrRefreshRejected or ErrServerUnavailable.

The oidc.callback package

The callback package provides http handlers for the login, callback and logout
routes of a web application, plus middleware guarding pages by authentication
and by role.

Testing

TestProvider is a local TLS authorization server which verifies PKCE, mints
ES256 access tokens and can be told to fail, so the whole flow can be tested
without a real server.
*/
package oidc
