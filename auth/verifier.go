package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRejected is the only error Verify returns. The cause is never exposed to
// the client.
var ErrRejected = errors.New("token rejected")

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify returns the userId carried by token. Missing, malformed, expired or
// badly signed tokens and tokens without a userId all yield ErrRejected.
func (v *JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrRejected
	}

	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrRejected
	}
	if claims.UserID == "" {
		return "", ErrRejected
	}
	return claims.UserID, nil
}

// Sign issues a token for userID. A zero ttl produces a token without expiry,
// matching what the auth service hands out at sign-in.
func Sign(secret, userID string, ttl time.Duration) (string, error) {
	claims := Claims{UserID: userID}
	if ttl != 0 {
		now := time.Now()
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
