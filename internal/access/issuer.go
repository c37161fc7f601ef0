package access

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("access token invalid")
	ErrEmptyRef     = errors.New("content reference is empty")
)

// Grant is a time-limited URL for a piece of generated content
type Grant struct {
	URL       string
	ExpiresAt time.Time
}

// Issuer signs short-lived content URLs. Each call produces a distinct token,
// so a reissued URL never equals a previous one.
type Issuer struct {
	baseURL    string
	signingKey []byte
	defaultTTL time.Duration
	nowFn      func() time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
}

// NewIssuer creates an issuer for URLs rooted at baseURL
func NewIssuer(baseURL, signingKey string, defaultTTL time.Duration) (*Issuer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("access base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse access base url: %w", err)
	}
	if signingKey == "" {
		return nil, fmt.Errorf("access signing key is required")
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("access ttl must be positive")
	}

	return &Issuer{
		baseURL:    baseURL,
		signingKey: []byte(signingKey),
		defaultTTL: defaultTTL,
		nowFn:      time.Now,
	}, nil
}

// DefaultTTL returns the lifetime used when Issue is called with ttl <= 0
func (i *Issuer) DefaultTTL() time.Duration {
	return i.defaultTTL
}

// Issue signs a URL for contentRef valid for ttl
func (i *Issuer) Issue(ctx context.Context, contentRef string, ttl time.Duration) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if contentRef == "" {
		return Grant{}, ErrEmptyRef
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.nowFn()
	expiresAt := now.Add(ttl)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   contentRef,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return Grant{}, fmt.Errorf("sign access token: %w", err)
	}

	u := fmt.Sprintf("%s/%s?token=%s", i.baseURL, url.PathEscape(contentRef), url.QueryEscape(token))
	// NumericDate has second precision
	return Grant{URL: u, ExpiresAt: time.Unix(expiresAt.Unix(), 0)}, nil
}

// Verify checks a token taken from an issued URL and returns its content reference
func (i *Issuer) Verify(token string) (string, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.nowFn),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
