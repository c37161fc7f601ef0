package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ScopeAgent marks callers whose grants are recorded as agent unlocks
const ScopeAgent = "unlock:agent"

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Caller is the identity taken from a verified bearer token
type Caller struct {
	ID     string
	Scopes []string
}

// HasScope reports whether the caller was granted scope
func (c Caller) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const contextKeyCaller contextKey = "unlock.caller"

// CallerFromContext returns the caller stored by Authenticator.Middleware
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKeyCaller).(Caller)
	return c, ok
}

// Authenticator verifies HMAC-signed tokens minted by the identity provider
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	log    *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, log *slog.Logger) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		log:    log,
	}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "", false)
			return
		}
		caller, err := a.parseToken(tokenString)
		if err != nil {
			a.log.Warn("token validation failed", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token", "", false)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the caller when a bearer token is present and rejects only invalid ones
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}
		a.Middleware(next).ServeHTTP(w, r)
	})
}

func (a *Authenticator) parseToken(tokenString string) (Caller, error) {
	if len(a.secret) == 0 {
		return Caller{}, errors.New("auth secret not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Caller{}, err
	}
	if !token.Valid {
		return Caller{}, errors.New("token invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Caller{}, errors.New("token has no subject")
	}
	return Caller{ID: strings.TrimSpace(sub), Scopes: extractScopes(claims["scope"])}, nil
}

func extractScopes(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
