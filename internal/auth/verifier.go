// Package auth verifies the bearer tokens clients present at handshake time.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification: bad
// signature, expired, malformed, or missing the user id claim.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier checks a bearer token and resolves it to a user id. The relay
// treats verification as a black box: no retry, no caching.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWT verifies HS256-signed tokens carrying the user id in the "userId"
// claim, the contract of the identity service that issues them.
type JWT struct {
	secret []byte
}

// NewJWT creates a verifier for tokens signed with the given secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Verify checks the token signature and expiry and returns the userId claim.
func (j *JWT) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: missing userId claim", ErrInvalidToken)
	}
	return userID, nil
}

// Sign issues a token for the user id with the given TTL. Used by tests and
// local tooling; production tokens come from the identity service.
func (j *JWT) Sign(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: empty user id")
	}
	claims := jwt.MapClaims{
		"userId": userID,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
