// Package identity resolves the authenticated principal of an HTTP request.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie a browser session token is read from when no
// Authorization header is present.
const SessionCookie = "__session"

// Static errors for token verification.
var (
	// ErrNoToken is returned when the request carries neither a bearer token nor a session cookie.
	ErrNoToken = errors.New("identity: no token")
	// ErrNoSubject is returned when a valid token has an empty subject.
	ErrNoSubject = errors.New("identity: token has no subject")
	// ErrSecretRequired is returned when a JWTResolver is built without a secret.
	ErrSecretRequired = errors.New("identity: signing secret is required")
)

// Resolver returns the principal id of a request, or false when the request
// is not authenticated.
type Resolver interface {
	Resolve(r *http.Request) (userID string, ok bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) (string, bool)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (string, bool) {
	return f(r)
}

// JWTResolver verifies HS256 session tokens and uses their subject as the
// principal id.
type JWTResolver struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// JWTOption is a function that configures a JWTResolver.
type JWTOption func(*JWTResolver)

// WithIssuer requires tokens to carry the given "iss" claim.
func WithIssuer(iss string) JWTOption {
	return func(j *JWTResolver) {
		j.issuer = iss
	}
}

// WithLeeway allows for clock skew when checking exp/nbf/iat.
func WithLeeway(d time.Duration) JWTOption {
	return func(j *JWTResolver) {
		j.leeway = d
	}
}

// NewJWTResolver creates a resolver that verifies tokens signed with secret.
func NewJWTResolver(secret string, opts ...JWTOption) (*JWTResolver, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	j := &JWTResolver{
		secret: []byte(secret),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Resolve extracts and verifies the request token. Any verification failure
// means the request is unauthenticated.
func (j *JWTResolver) Resolve(r *http.Request) (string, bool) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return "", false
	}
	sub, err := j.Verify(token)
	if err != nil {
		return "", false
	}
	return sub, true
}

// Verify parses a token string and returns its subject.
func (j *JWTResolver) Verify(tokenString string) (string, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("identity: parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("identity: invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// Issue signs a token for subject valid for ttl. It is used by tooling and tests.
func (j *JWTResolver) Issue(subject string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
		return "", ErrNoToken
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrNoToken
}
