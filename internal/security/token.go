// Package security issues and verifies operator tokens for the admin API.
package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const operatorIssuer = "subengine"

var (
	// ErrMissingSecret indicates the JWT secret is not configured.
	ErrMissingSecret = errors.New("jwt secret is not configured")
	// ErrInvalidToken indicates a token failed verification.
	ErrInvalidToken = errors.New("invalid operator token")
)

// OperatorClaims are the claims carried by an operator token.
type OperatorClaims struct {
	OperatorID uint64 `json:"-"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs an HS256 token for the operator.
func IssueOperatorToken(secret string, operatorID uint64, expiry time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	if operatorID == 0 {
		return "", errors.New("operator id is required")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    operatorIssuer,
		Subject:   strconv.FormatUint(operatorID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("sign operator token: %w", errSign)
	}
	return signed, nil
}

// ParseOperatorToken verifies the token signature, issuer and expiry.
func ParseOperatorToken(secret, token string) (*OperatorClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	claims := &OperatorClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(operatorIssuer),
		jwt.WithExpirationRequired(),
	)
	if errParse != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	id, errID := strconv.ParseUint(claims.Subject, 10, 64)
	if errID != nil || id == 0 {
		return nil, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	claims.OperatorID = id
	return claims, nil
}
