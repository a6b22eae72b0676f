package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenKey contextKey = "bearer_token"

// WithToken attaches a raw bearer token to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFrom retrieves the raw bearer token from the context.
func TokenFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// Claims are the JWT claims accepted by the escrow API. The subject is the
// caller's identity.
type Claims struct {
	jwt.RegisteredClaims
}

// JWT is an Authorizer validating HMAC-signed bearer tokens. The assertion
// "caller is identity" holds when the context carries a valid token whose
// subject equals the claimed identity.
type JWT struct {
	secret []byte
}

func NewJWT(secret []byte) *JWT {
	return &JWT{secret: secret}
}

func (a *JWT) RequireAuth(ctx context.Context, identity string) error {
	raw, ok := TokenFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no bearer token in context", ErrUnauthenticated)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject != identity {
		return fmt.Errorf("%w: token subject %q is not %q", ErrUnauthenticated, claims.Subject, identity)
	}
	return nil
}

// Issue signs a token asserting the given identity for the given lifetime.
func (a *JWT) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Subject extracts the proven identity from a valid token, for transport
// middleware that attaches the caller to the context.
func (a *JWT) Subject(raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	return claims.Subject, nil
}
