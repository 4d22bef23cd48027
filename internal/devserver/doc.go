// Package devserver is a small identity service and protected API used for
// local development, the CLI demo, and end-to-end tests.
//
// It speaks the exchange contract the client expects: POST /auth/login with
// {"email","password"}, POST /auth/refresh with {"refreshToken"}, 401 with a
// {"message"} body on failure. Protected routes under /api require a bearer
// access token minted by the same server.
package devserver
