package exchange

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MrEthical07/authpipe/credential"
)

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

type identityPayload struct {
	ID          looseString `json:"id"`
	UserID      looseString `json:"userId"`
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	Active      *bool       `json:"active"`
	IsActive    *bool       `json:"isActive"`
}

type tokenPayload struct {
	Token         string           `json:"token"`
	AccessToken   string           `json:"accessToken"`
	AccessTokenSC string           `json:"access_token"`
	RefreshToken  string           `json:"refreshToken"`
	RefreshSC     string           `json:"refresh_token"`
	User          *identityPayload `json:"user"`
	Data          *tokenPayload    `json:"data"`
	identityPayload
}

type errorPayload struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// normalize folds every accepted response shape into one record.
func normalize(body []byte) (credential.Record, error) {
	var p tokenPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return credential.Record{}, err
	}
	if p.Data != nil && firstNonEmpty(p.Token, p.AccessToken, p.AccessTokenSC) == "" {
		return normalizeFrom(*p.Data), nil
	}
	return normalizeFrom(p), nil
}

func normalizeFrom(p tokenPayload) credential.Record {
	rec := credential.Record{
		AccessToken:  firstNonEmpty(p.Token, p.AccessToken, p.AccessTokenSC),
		RefreshToken: firstNonEmpty(p.RefreshToken, p.RefreshSC),
	}
	if p.User != nil {
		rec.Identity = p.User.identity()
	} else {
		rec.Identity = p.identityPayload.identity()
	}
	return rec
}

func (p identityPayload) identity() *credential.Identity {
	id := firstNonEmpty(string(p.ID), string(p.UserID))
	name := firstNonEmpty(p.DisplayName, p.Name, p.Username)
	if id == "" && name == "" && p.Email == "" && p.Role == "" {
		return nil
	}

	active := true
	switch {
	case p.Active != nil:
		active = *p.Active
	case p.IsActive != nil:
		active = *p.IsActive
	}

	return &credential.Identity{
		ID:          id,
		DisplayName: name,
		Email:       p.Email,
		Role:        p.Role,
		Active:      active,
	}
}

// errorMessage extracts the human-readable text of a failure payload.
func errorMessage(body []byte) string {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return strings.TrimSpace(string(truncate(body, 256)))
	}
	if p.Message != "" {
		return p.Message
	}
	if len(p.Error) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	var nested errorPayload
	if err := json.Unmarshal(p.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
