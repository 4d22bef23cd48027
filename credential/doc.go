// Package credential provides the durable key-value surface that holds the
// access credential, the renewal credential, and the authenticated identity.
//
// # Storage layout
//
// Every backend persists three independent keys under a shared prefix:
//
//	<prefix>:token         access credential (opaque string)
//	<prefix>:refreshToken  renewal credential (opaque string)
//	<prefix>:currentUser   identity record (JSON)
//
// [Store.Clear] removes all three in one atomic step. [Store.DropAccess] removes
// only the access credential so a silent renewal can still use the renewal
// credential.
//
// # Architecture boundaries
//
// Stores perform no validation and no coordination. They never decode tokens,
// never decide whether a credential is expired, and never call the network
// except to reach their own backend. Serializing writers is the caller's job.
package credential
