// Package auth resolves transport-level credentials to identities. The hub
// never sees credentials; the transports call Resolve during the handshake
// and close the connection with an authentication-failed code when it errors.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential indicates the request carried no token at all.
var ErrNoCredential = errors.New("no credential presented")

// Resolver maps a raw credential to an identity. Implementations must be safe
// for concurrent use.
type Resolver interface {
	Resolve(credential string) (identity string, err error)
}

// Claims are the token claims issued by the account service.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens issued by the account service and
// extracts the user identity.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve validates the token and returns the user identity (the userId
// claim, falling back to the registered subject).
func (r *JWTResolver) Resolve(credential string) (string, error) {
	if credential == "" {
		return "", ErrNoCredential
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	identity := claims.UserID
	if identity == "" {
		identity = claims.Subject
	}
	if identity == "" {
		return "", errors.New("token carries no identity")
	}
	return identity, nil
}

// Issue creates a signed token for the given identity. Used by tests and by
// the account service's shared signing helper.
func (r *JWTResolver) Issue(identity, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: identity,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "rideline-realtime",
			Subject:   identity,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// CredentialFromRequest extracts the raw credential from an HTTP request.
// Browsers cannot set headers on WebSocket or EventSource requests, so the
// `token` query parameter is checked first, then the Authorization header.
func CredentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const bearerPrefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	return ""
}
