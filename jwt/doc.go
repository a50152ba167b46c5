// Package jwt mints and verifies the two bearer token kinds: short-lived
// access tokens and long-lived refresh tokens.
//
// Each kind has its own signing material, and the "pur" claim names the
// kind. A refresh token can never pass as an access token or the reverse.
// This package does not know about sessions; a valid refresh signature is
// necessary but not sufficient to refresh.
package jwt
