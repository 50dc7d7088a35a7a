package gateway

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity a session token must establish before a connection
// is registered anywhere.
type Claims struct {
	UserID   string
	UserName string
	IsAdmin  bool
}

// ValidateToken checks the bearer token from the connection URL. A token
// without a subject or expiry claim, or past its expiry, is rejected before
// the user is registered. Expiry is checked once, here; the connection is
// not re-validated for its lifetime.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.New("invalid token: missing subject claim")
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return nil, errors.New("invalid token: missing expiry claim")
	}

	userName, _ := claims["name"].(string)
	if userName == "" {
		userName = subject
	}
	role, _ := claims["role"].(string)

	return &Claims{
		UserID:   subject,
		UserName: userName,
		IsAdmin:  role == "admin",
	}, nil
}
