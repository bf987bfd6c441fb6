package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is an authenticated identity attached to a connection.
type Principal struct {
	UserID   int
	Username string
}

// IdentityProvider resolves a handshake token to a principal.
type IdentityProvider interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// JWTVerifier validates HS256 tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier for the shared signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Resolve parses and verifies the token and extracts the principal claims.
func (v *JWTVerifier) Resolve(ctx context.Context, tokenString string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, fmt.Errorf("jwt secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	principal := Principal{}
	if id, ok := (*claims)["user_id"].(float64); ok {
		principal.UserID = int(id)
	}
	if username, ok := (*claims)["username"].(string); ok {
		principal.Username = username
	}
	if principal.Username == "" {
		return Principal{}, ErrInvalidToken
	}
	return principal, nil
}
