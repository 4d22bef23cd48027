package jwt

import (
	"errors"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

var (
	// ErrMalformed is returned when a credential cannot be decoded as a JWT.
	ErrMalformed = errors.New("malformed credential")
	// ErrNoExpiry is returned when a credential carries no exp claim.
	ErrNoExpiry = errors.New("credential has no expiry")
)

// Claims is the subset of a credential's payload the client cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Checker reports credential validity from the embedded expiry claim.
//
// A Checker holds no mutable state; IsExpired and Claims are safe to call
// concurrently and return the same answer for the same token and clock reading.
type Checker struct {
	clock  clock.Clock
	skew   time.Duration
	parser *gjwt.Parser
}

// NewChecker returns a Checker reading time from clk. Tokens that expire within
// skew of now are reported expired. A nil clk uses the wall clock.
func NewChecker(clk clock.Clock, skew time.Duration) *Checker {
	if clk == nil {
		clk = clock.WallClock
	}
	if skew < 0 {
		skew = 0
	}
	return &Checker{
		clock:  clk,
		skew:   skew,
		parser: gjwt.NewParser(),
	}
}

// IsExpired reports whether token is expired. Unparseable tokens and tokens
// without an exp claim are expired.
func (c *Checker) IsExpired(token string) bool {
	claims, err := c.Claims(token)
	if err != nil {
		return true
	}
	return !c.clock.Now().Add(c.skew).Before(claims.ExpiresAt)
}

// Claims decodes token without verifying its signature.
func (c *Checker) Claims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMalformed
	}

	var registered gjwt.RegisteredClaims
	if _, _, err := c.parser.ParseUnverified(token, &registered); err != nil {
		return Claims{}, ErrMalformed
	}
	if registered.ExpiresAt == nil {
		return Claims{}, ErrNoExpiry
	}

	out := Claims{
		Subject:   registered.Subject,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		out.IssuedAt = registered.IssuedAt.Time
	}
	return out, nil
}

// Expiry returns the exp claim of token.
func (c *Checker) Expiry(token string) (time.Time, error) {
	claims, err := c.Claims(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}
