package credential

import "context"

// Store is the contract every credential backend implements.
//
// Get returns a zero Record (not an error) when nothing is stored. Set writes
// the access credential unconditionally and the renewal credential and identity
// only when present in the record. Clear removes all three fields atomically.
// DropAccess removes only the access credential.
type Store interface {
	Get(ctx context.Context) (Record, error)
	Set(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
	DropAccess(ctx context.Context) error
}
