// Package jwt decodes credential expiry on the client and mints signed access
// and refresh tokens for development backends and tests.
//
// [Checker] never verifies signatures: the client cannot hold the server's key
// and only needs to know whether a credential is worth sending. Verification
// lives in [Issuer], which is the server half.
package jwt
