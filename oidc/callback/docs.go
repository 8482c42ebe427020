// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides the http side of an oidc.Controller: the
login, authorization code callback and logout handlers, plus page guard and
role guard middleware.
*/
package callback
