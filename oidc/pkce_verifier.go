// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method (RFC 7636 section 4.2).
	S256 ChallengeMethod = "S256"

	// Plain sends the verifier as its own challenge. It only exists for
	// servers that cannot do S256 and is never used by the Controller.
	Plain ChallengeMethod = "plain"
)

const (
	// MinVerifierLen and MaxVerifierLen are the bounds RFC 7636 places on the
	// length of a code_verifier.
	MinVerifierLen = 43
	MaxVerifierLen = 128

	// DefaultVerifierLen is the length used when none is requested.
	DefaultVerifierLen = 64
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://www.rfc-editor.org/rfc/rfc7636.html#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method. It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// Supported options: WithVerifierLength
//
// See: https://www.rfc-editor.org/rfc/rfc7636.html#section-4.1
func NewCodeVerifier(opt ...Option) (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	opts := getVerifierOpts(opt...)
	v, err := GenerateVerifier(opts.withLength)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c, err := DeriveChallenge(v, S256)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &S256Verifier{
		verifier:  v,
		challenge: c,
		method:    S256,
	}, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// verifierAlphabet is the base64url alphabet, a subset of the RFC 7636
// unreserved characters.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// GenerateVerifier returns a random code verifier of exactly length
// characters drawn from the unreserved URL-safe alphabet. The length must be
// within [MinVerifierLen, MaxVerifierLen].
func GenerateVerifier(length int) (string, error) {
	const op = "GenerateVerifier"
	if length < MinVerifierLen || length > MaxVerifierLen {
		return "", fmt.Errorf("%s: verifier length %d is outside [%d, %d]: %w", op, length, MinVerifierLen, MaxVerifierLen, ErrInvalidParameter)
	}
	// each byte contributes 6 bits of the 8 it carries, which keeps the
	// alphabet lookup uniform
	b, err := uuid.GenerateRandomBytes(length)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read random bytes: %w", op, err)
	}
	out := make([]byte, length)
	for i := range b {
		out[i] = verifierAlphabet[b[i]&0x3f]
	}
	return string(out), nil
}

// DeriveChallenge computes the code challenge for a verifier using the
// requested method.
func DeriveChallenge(verifier string, method ChallengeMethod) (string, error) {
	const op = "DeriveChallenge"
	switch method {
	case S256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case Plain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256 and Plain
//
// See: https://datatracker.ietf.org/doc/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	c, err := DeriveChallenge(v.Verifier(), method)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// verifierOptions is the set of available options for NewCodeVerifier
type verifierOptions struct {
	withLength int
}

// verifierDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func verifierDefaults() verifierOptions {
	return verifierOptions{
		withLength: DefaultVerifierLen,
	}
}

// getVerifierOpts gets the defaults and applies the opt overrides passed in.
func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
