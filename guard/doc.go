// Package guard gates HTTP handlers and commands on the client's stored
// session.
//
// Guards only read session state through [SessionReader]; they never renew
// credentials or talk to the identity service. [*authpipe.Client] satisfies
// SessionReader.
package guard
