package credential

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrStoreUnavailable is returned when the backing storage cannot be reached.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEmptyCredential is returned by Set when the record has no access token.
	ErrEmptyCredential = errors.New("empty access credential")
	// ErrCorruptIdentity is returned when a stored identity record cannot be decoded.
	ErrCorruptIdentity = errors.New("corrupt identity record")
)

// Identity is the authenticated principal's profile.
//
// Identity values are owned by the store and written only after a successful
// identity exchange. Readers receive copies.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Active      bool   `json:"active"`
}

// HasRole reports whether the identity carries any of the given roles.
// Comparison is case-insensitive.
func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), i.Role) && i.Role != "" {
			return true
		}
	}
	return false
}

// Record is the canonical result of an identity exchange and the unit a
// [Store] reads and writes.
//
// An empty AccessToken means no credential is present. RefreshToken and
// Identity are optional.
type Record struct {
	AccessToken  string
	RefreshToken string
	Identity     *Identity
}

// Present reports whether the record holds an access credential.
func (r Record) Present() bool {
	return r.AccessToken != ""
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Identity != nil {
		id := *r.Identity
		out.Identity = &id
	}
	return out
}

// Keys names the three storage keys used by persistent backends.
type Keys struct {
	Access   string
	Refresh  string
	Identity string
}

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "auth"

// NewKeys derives the storage keys for prefix.
func NewKeys(prefix string) Keys {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{
		Access:   prefix + ":token",
		Refresh:  prefix + ":refreshToken",
		Identity: prefix + ":currentUser",
	}
}

func encodeIdentity(id *Identity) (string, error) {
	if id == nil {
		return "", nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeIdentity(raw string) (*Identity, error) {
	if raw == "" {
		return nil, nil
	}
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, ErrCorruptIdentity
	}
	return &id, nil
}
