// Package audit relays credential lifecycle events (logins, renewal cycles,
// rejected requests, logouts) to a caller-supplied sink without blocking the
// request path.
//
// # Components
//
//   - [Sink] receives events (channel, JSON lines, no-op).
//   - [Dispatcher] buffers events and delivers them from one goroutine.
//   - [Event] is the record shape shared by every sink.
//
// The package never decides which events exist; the client does.
package audit
