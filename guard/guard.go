package guard

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/authpipe/credential"
)

var (
	// ErrNotLoggedIn is returned when no credential is stored.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrForbidden is returned when the stored identity lacks every required
	// role.
	ErrForbidden = errors.New("forbidden")
)

// SessionReader exposes side-effect free reads of the stored session.
type SessionReader interface {
	IsLoggedIn(ctx context.Context) bool
	IsTokenExpired(ctx context.Context) bool
	CurrentUser(ctx context.Context) (*credential.Identity, error)
}

type identityContextKey struct{}

// IdentityFromContext returns the identity injected by a guard.
func IdentityFromContext(ctx context.Context) (*credential.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*credential.Identity)
	return id, ok && id != nil
}

// Check reports whether the session satisfies the guard. With no roles any
// logged-in session passes. An expired credential still passes because the
// request pipeline renews it on next use.
func Check(ctx context.Context, reader SessionReader, roles ...string) (*credential.Identity, error) {
	if reader == nil || !reader.IsLoggedIn(ctx) {
		return nil, ErrNotLoggedIn
	}
	id, err := reader.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return id, nil
	}
	if id == nil || !id.HasRole(roles...) {
		return id, ErrForbidden
	}
	return id, nil
}

// RequireLogin rejects requests when no session is stored. With a non-empty
// loginURL the guard redirects there instead of answering 401.
func RequireLogin(reader SessionReader, loginURL string) func(http.Handler) http.Handler {
	return require(reader, loginURL, nil)
}

// RequireRole rejects requests unless the stored identity has one of roles.
func RequireRole(reader SessionReader, roles ...string) func(http.Handler) http.Handler {
	return require(reader, "", roles)
}

func require(reader SessionReader, loginURL string, roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Check(r.Context(), reader, roles...)
			switch {
			case errors.Is(err, ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			case err != nil && loginURL != "":
				http.Redirect(w, r, loginURL, http.StatusSeeOther)
				return
			case err != nil:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if id != nil {
				ctx = context.WithValue(ctx, identityContextKey{}, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
