package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims mirrors the access tokens issued by the game server.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Inspect decodes a credential without verifying its signature. The client
// never holds the signing key; it only reads the expiry to avoid sending a
// token the server is certain to refuse.
func Inspect(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}

// Expired reports whether the token expires before now+leeway. Tokens with no
// exp claim never expire.
func Expired(claims *Claims, now time.Time, leeway time.Duration) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return !now.Add(leeway).Before(claims.ExpiresAt.Time)
}
