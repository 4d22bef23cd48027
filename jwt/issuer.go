package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// SigningMethod selects the algorithm an [Issuer] signs with.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using PrivateKey as the shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access credentials from renewal credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ErrWrongKind is returned by Verify when a refresh token is presented as an
// access token or vice versa.
var ErrWrongKind = errors.New("token kind mismatch")

// IssuerConfig configures an [Issuer].
type IssuerConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	Clock         clock.Clock
}

// TokenClaims is the payload minted by an [Issuer].
type TokenClaims struct {
	Role       string `json:"role,omitempty"`
	Kind       Kind   `json:"typ"`
	Generation uint64 `json:"gen,omitempty"`
	gjwt.RegisteredClaims
}

// Issuer signs and verifies access and refresh tokens.
//
// Issuer instances are configured once and then treated as immutable.
type Issuer struct {
	config IssuerConfig
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Issuer{config: cfg}, nil
}

// IssueAccess mints an access token for subject.
func (i *Issuer) IssueAccess(subject, role string, generation uint64) (string, error) {
	return i.issue(KindAccess, subject, role, generation, i.config.AccessTTL)
}

// IssueRefresh mints a refresh token for subject.
func (i *Issuer) IssueRefresh(subject string, generation uint64) (string, error) {
	return i.issue(KindRefresh, subject, "", generation, i.config.RefreshTTL)
}

func (i *Issuer) issue(kind Kind, subject, role string, generation uint64, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}

	now := i.config.Clock.Now()
	claims := TokenClaims{
		Role:       role,
		Kind:       kind,
		Generation: generation,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.config.Issuer,
			ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  gjwt.NewNumericDate(now),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = gjwt.ClaimStrings{i.config.Audience}
	}

	key, err := i.signKey()
	if err != nil {
		return "", err
	}
	return gjwt.NewWithClaims(i.method(), claims).SignedString(key)
}

// Verify checks the signature, registered claims, and kind of token.
func (i *Issuer) Verify(token string, kind Kind) (*TokenClaims, error) {
	options := []gjwt.ParserOption{
		gjwt.WithValidMethods([]string{i.method().Alg()}),
		gjwt.WithTimeFunc(i.config.Clock.Now),
		gjwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, gjwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, gjwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, gjwt.WithAudience(i.config.Audience))
	}

	parsed, err := gjwt.NewParser(options...).ParseWithClaims(token, &TokenClaims{}, func(t *gjwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, gjwt.ErrTokenInvalidClaims
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

func (i *Issuer) method() gjwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return gjwt.SigningMethodHS256
	}
	return gjwt.SigningMethodEdDSA
}

func (i *Issuer) signKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPrivateKey(i.config.PrivateKey)
}

func (i *Issuer) verifyKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPublicKey(i.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := gjwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := gjwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
