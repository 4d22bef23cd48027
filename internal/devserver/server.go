package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/authpipe/internal/rate"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
)

// ResponseShape selects how login responses are laid out, so clients can be
// exercised against each supported payload shape.
type ResponseShape string

const (
	ShapeNested   ResponseShape = "nested"   // {"token","refreshToken","user":{...}}
	ShapeFlat     ResponseShape = "flat"     // {"accessToken","refresh_token","id","email",...}
	ShapeEnvelope ResponseShape = "envelope" // {"data":{...nested...}}
)

// User is an account known to the server.
type User struct {
	ID           string
	Name         string
	Email        string
	Role         string
	Active       bool
	passwordHash string
}

// Config configures a [Server].
type Config struct {
	Issuer *jwt.Issuer
	Hasher *Hasher
	Shape  ResponseShape
	// DisableRefresh makes /auth/refresh answer 404, leaving only the login
	// path.
	DisableRefresh bool
	// Limiter throttles failed logins and refresh exchanges. Nil disables
	// throttling.
	Limiter *rate.Limiter
	Logger  logr.Logger
}

// Stats counts exchanges served.
type Stats struct {
	Logins    int64
	Refreshes int64
	Rejected  int64
	Throttled int64
}

// Server is safe for concurrent use.
type Server struct {
	issuer  *jwt.Issuer
	hasher  *Hasher
	shape   ResponseShape
	limiter *rate.Limiter
	logger  logr.Logger
	router  *mux.Router

	mu     sync.RWMutex
	users  map[string]*User // by lower-cased email
	nextID int

	generation atomic.Uint64
	logins     atomic.Int64
	refreshes  atomic.Int64
	rejected   atomic.Int64
	throttled  atomic.Int64
}

func New(cfg Config) (*Server, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("devserver: issuer is required")
	}
	if cfg.Hasher == nil {
		h, err := NewHasher(DefaultHashConfig())
		if err != nil {
			return nil, err
		}
		cfg.Hasher = h
	}
	if cfg.Shape == "" {
		cfg.Shape = ShapeNested
	}

	s := &Server{
		issuer:  cfg.Issuer,
		hasher:  cfg.Hasher,
		shape:   cfg.Shape,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.WithName("devserver"),
		users:   make(map[string]*User),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	if !cfg.DisableRefresh {
		r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	}
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAccess)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/{resource}", s.handleResource)
	api.HandleFunc("/{resource}/{id}", s.handleResource)
	r.HandleFunc("/admin/revoke", s.handleRevoke).Methods(http.MethodPost)
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddUser registers an account.
func (s *Server) AddUser(email, name, role, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("devserver: email is required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return nil, errors.New("devserver: user exists")
	}
	s.nextID++
	u := &User{
		ID:           strconv.Itoa(s.nextID),
		Name:         name,
		Email:        email,
		Role:         role,
		Active:       true,
		passwordHash: hash,
	}
	s.users[email] = u
	return u, nil
}

// SetActive enables or disables an account.
func (s *Server) SetActive(email string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if ok {
		u.Active = active
	}
	return ok
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	gen := s.generation.Add(1)
	s.logger.Info("all tokens revoked", "generation", gen)
}

func (s *Server) Stats() Stats {
	return Stats{
		Logins:    s.logins.Load(),
		Refreshes: s.refreshes.Load(),
		Rejected:  s.rejected.Load(),
		Throttled: s.throttled.Load(),
	}
}

func (s *Server) lookup(email string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (s *Server) lookupByID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			return *u, true
		}
	}
	return User{}, false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed login request")
		return
	}

	ctx := r.Context()
	if !s.allow(w, s.limiterCheckLogin(ctx, form.Email)) {
		return
	}

	u, ok := s.lookup(form.Email)
	if ok {
		match, err := s.hasher.Verify(form.Password, u.passwordHash)
		ok = err == nil && match
	}
	if !ok {
		if s.limiter != nil {
			if err := s.limiter.RecordLoginFailure(ctx, form.Email); err != nil {
				s.logger.Error(err, "record login failure")
			}
		}
		s.reject(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !u.Active {
		s.reject(w, http.StatusForbidden, "Account disabled")
		return
	}

	access, refresh, err := s.issuePair(u)
	if err != nil {
		s.logger.Error(err, "issue tokens failed")
		writeError(w, http.StatusInternalServerError, "Token issuance failed")
		return
	}
	if s.limiter != nil {
		if err := s.limiter.ResetLogin(ctx, form.Email); err != nil {
			s.logger.Error(err, "reset login failures")
		}
	}
	s.logins.Add(1)
	s.logger.V(1).Info("login", "user", u.ID)
	writeJSON(w, http.StatusOK, s.loginBody(u, access, refresh))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var form struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed refresh request")
		return
	}

	claims, err := s.issuer.Verify(form.RefreshToken, jwt.KindRefresh)
	if err != nil || claims.Generation != s.generation.Load() {
		s.reject(w, http.StatusUnauthorized, "Refresh token invalid or expired")
		return
	}
	if s.limiter != nil && !s.allow(w, s.limiter.CheckRefresh(r.Context(), claims.Subject)) {
		return
	}
	u, ok := s.lookupByID(claims.Subject)
	if !ok || !u.Active {
		s.reject(w, http.StatusUnauthorized, "Account unavailable")
		return
	}

	access, refresh, err := s.issuePair(u)
	if err != nil {
		s.logger.Error(err, "issue tokens failed")
		writeError(w, http.StatusInternalServerError, "Token issuance failed")
		return
	}
	s.refreshes.Add(1)
	s.logger.V(1).Info("refresh", "user", u.ID)
	writeJSON(w, http.StatusOK, map[string]string{"token": access, "refreshToken": refresh})
}

func (s *Server) handleRevoke(w http.ResponseWriter, _ *http.Request) {
	s.RevokeAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, userBody(u))
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"resource": vars["resource"],
		"id":       vars["id"],
		"method":   r.Method,
		"user":     u.ID,
	})
}

func (s *Server) issuePair(u User) (string, string, error) {
	gen := s.generation.Load()
	access, err := s.issuer.IssueAccess(u.ID, u.Role, gen)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.issuer.IssueRefresh(u.ID, gen)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) loginBody(u User, access, refresh string) any {
	switch s.shape {
	case ShapeFlat:
		body := userBody(u)
		body["accessToken"] = access
		body["refresh_token"] = refresh
		return body
	case ShapeEnvelope:
		return map[string]any{"data": map[string]any{"token": access, "refreshToken": refresh, "user": userBody(u)}}
	default:
		return map[string]any{"token": access, "refreshToken": refresh, "user": userBody(u)}
	}
}

func (s *Server) limiterCheckLogin(ctx context.Context, email string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.CheckLogin(ctx, email)
}

// allow answers 429 or 503 for a limiter error and reports whether the
// request may proceed.
func (s *Server) allow(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, rate.ErrRateLimited):
		s.throttled.Add(1)
		writeError(w, http.StatusTooManyRequests, "Too many attempts")
	default:
		s.logger.Error(err, "rate limiter unavailable")
		writeError(w, http.StatusServiceUnavailable, "Try again later")
	}
	return false
}

func (s *Server) reject(w http.ResponseWriter, status int, message string) {
	s.rejected.Add(1)
	writeError(w, status, message)
}

func userBody(u User) map[string]any {
	return map[string]any{
		"id":     u.ID,
		"name":   u.Name,
		"email":  u.Email,
		"role":   u.Role,
		"active": u.Active,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

type userContextKey struct{}

func userFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userContextKey{}).(User)
	return u, ok
}

// requireAccess admits requests carrying a current access token.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := s.issuer.Verify(token, jwt.KindAccess)
		if err != nil || claims.Generation != s.generation.Load() {
			writeError(w, http.StatusUnauthorized, "Token invalid or expired")
			return
		}
		u, ok := s.lookupByID(claims.Subject)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unknown user")
			return
		}
		if !u.Active {
			writeError(w, http.StatusForbidden, "Account disabled")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
