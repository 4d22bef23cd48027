package fallback

import (
	"context"
	"os"
	"strings"
)

// Credentials is a login form submitted on the caller's behalf.
type Credentials struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Secret     string `yaml:"secret" json:"secret"`
}

// Valid reports whether both fields are populated.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Identifier) != "" && c.Secret != ""
}

// Provider yields fallback login credentials.
type Provider interface {
	FallbackCredentials(ctx context.Context) (Credentials, bool, error)
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(ctx context.Context) (Credentials, bool, error)

func (f ProviderFunc) FallbackCredentials(ctx context.Context) (Credentials, bool, error) {
	return f(ctx)
}

type staticProvider struct {
	creds Credentials
}

// Static returns a provider that always offers the same credentials.
func Static(identifier, secret string) Provider {
	return staticProvider{creds: Credentials{Identifier: identifier, Secret: secret}}
}

func (p staticProvider) FallbackCredentials(context.Context) (Credentials, bool, error) {
	return p.creds, p.creds.Valid(), nil
}

type envProvider struct {
	identifierVar string
	secretVar     string
}

// Env returns a provider that reads credentials from environment variables at
// call time.
func Env(identifierVar, secretVar string) Provider {
	return envProvider{identifierVar: identifierVar, secretVar: secretVar}
}

func (p envProvider) FallbackCredentials(context.Context) (Credentials, bool, error) {
	creds := Credentials{
		Identifier: os.Getenv(p.identifierVar),
		Secret:     os.Getenv(p.secretVar),
	}
	return creds, creds.Valid(), nil
}

// Chain returns the first provider that has credentials. Errors stop the
// chain.
func Chain(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context) (Credentials, bool, error) {
		for _, p := range providers {
			if p == nil {
				continue
			}
			creds, ok, err := p.FallbackCredentials(ctx)
			if err != nil {
				return Credentials{}, false, err
			}
			if ok {
				return creds, true, nil
			}
		}
		return Credentials{}, false, nil
	})
}
