// Package exchange trades a login form or a renewal credential for a fresh
// credential pair and identity record.
//
// Responses are normalized at the boundary: whatever shape the backend uses
// (flat fields, a nested user object, a data envelope, snake or camel case),
// callers only ever see a [credential.Record].
//
// The client talks to the network through its own http.Client. It must never
// be handed the authenticating transport, or renewal would recurse into itself.
package exchange
