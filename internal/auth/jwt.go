// Package auth validates bearer credentials and resolves them to a user identity.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiprono234/chat-verse/internal/models"
)

// Identity is the authenticated user behind a credential.
type Identity struct {
	// Subject is the stable identity key (email, account id)
	Subject string

	// DisplayName and AvatarRef are optional profile claims
	DisplayName string
	AvatarRef   string
}

// Authenticator turns an opaque credential into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// CustomClaims are the claims carried by chat tokens.
type CustomClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// DefaultIssuer is the "iss" claim of tokens minted for this server.
const DefaultIssuer = "chat-verse"

// JWT validates HS256 tokens signed with a shared key.
type JWT struct {
	key    []byte
	issuer string
}

// NewJWT returns a JWT authenticator. Tokens it issues carry issuer as "iss".
func NewJWT(key, issuer string) *JWT {
	return &JWT{key: []byte(key), issuer: issuer}
}

// Issue signs a token for id valid for ttl.
func (a *JWT) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		Name:    id.DisplayName,
		Picture: id.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// Authenticate validates the token signature, expiry and subject.
func (a *JWT) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, models.NewError(models.CodeUnauthorized, "missing token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, models.WrapError(models.CodeUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return Identity{}, models.NewError(models.CodeUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, models.NewError(models.CodeUnauthorized, "token has no subject")
	}
	return Identity{
		Subject:     claims.Subject,
		DisplayName: claims.Name,
		AvatarRef:   claims.Picture,
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
