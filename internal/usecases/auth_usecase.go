package usecases

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// AuthUsecase issues dashboard API tokens for operators of a tenant.
// Tokens carry the claims the HTTP middleware reads: user_id, role and schema_name.
type AuthUsecase struct {
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthUsecase(secret string) *AuthUsecase {
	return &AuthUsecase{
		jwtSecret: []byte(secret),
		now:       time.Now,
	}
}

// IssueToken signs a token for subject acting on schema. ttl <= 0 means no expiry.
func (uc *AuthUsecase) IssueToken(subject, role, schema string, ttl time.Duration) (string, error) {
	if len(uc.jwtSecret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if !schemaPattern.MatchString(schema) {
		return "", fmt.Errorf("invalid tenant schema %q", schema)
	}
	if role == "" {
		role = "admin"
	}

	claims := jwt.MapClaims{
		"user_id":     subject,
		"role":        role,
		"schema_name": schema,
		"iat":         uc.now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = uc.now().Add(ttl).Unix()
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
