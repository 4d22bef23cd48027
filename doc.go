// Package authpipe attaches bearer credentials to outgoing HTTP requests and
// keeps them fresh.
//
// A [Client] owns a credential store, an identity exchanger, and a renewal
// coordinator. Requests sent through [Client.HTTPClient] (or any client using
// [Client.Transport]) get an Authorization header from the store. When the
// credential is missing or expired, or the server answers 401/403, the client
// renews it and resends the request once.
//
// # Single-flight renewal
//
// At most one identity exchange is in flight per Client. Every request that
// needs a credential while a renewal is running waits for that renewal's
// outcome and resumes with the same credential (or the same error). The
// exchange itself is never cancelled by a waiter; it always runs to
// completion.
//
// # Architecture boundaries
//
// authpipe is the public surface: [Client], [Builder], [Config], and value
// types. Storage backends live in credential/, the REST exchange in
// exchange/, expiry decoding in jwt/, fallback logins in fallback/. Audit
// dispatch and metric storage are internal.
//
// All Client methods are safe for concurrent use after [Builder.Build].
package authpipe
