// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// authflow provides the client side of an OAuth2 authorization code flow with
// PKCE against a project-scoped authorization server: login and callback
// handling, token storage with transparent refresh, logout with revocation and
// role checks on the access token.
//
// Packages:
//
//   - oidc: the flow controller and its building blocks
//   - oidc/callback: http handlers and page guard middleware
//   - storage/memory, storage/sqlite: key/value storage for tokens
//   - sdk/http: http clients, including one which authorizes every request
package authflow
