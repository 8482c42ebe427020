// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import "context"

type accessTokenKey struct{}

// WithAccessToken returns a copy of ctx carrying tk.
func WithAccessToken(ctx context.Context, tk string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, tk)
}

// AccessTokenFromContext returns the token RequireAuth attached to the request
// context, or "".
func AccessTokenFromContext(ctx context.Context) string {
	tk, _ := ctx.Value(accessTokenKey{}).(string)
	return tk
}
