// Package auth reads the user identity out of the session token the chat
// backend issued. Tokens are issued and validated elsewhere; this client only
// needs the user id to tag synthesis requests.
package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when a token carries none of the user id claims.
var ErrNoUserID = errors.New("token has no user id claim")

// userIDClaims are tried in order.
var userIDClaims = []string{"user_id", "sub", "id"}

// UserIDFromToken decodes the token payload without checking its signature
// and returns the first non-empty of the user_id, sub and id claims.
func UserIDFromToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	return userIDFrom(claims)
}

// VerifiedUserID is UserIDFromToken for deployments that share the HMAC
// secret with the backend. The signature and expiry are checked.
func VerifiedUserID(token string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth token secret is empty")
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	return userIDFrom(claims)
}

func userIDFrom(claims jwt.MapClaims) (string, error) {
	for _, name := range userIDClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64), nil
			}
		}
	}
	return "", ErrNoUserID
}
