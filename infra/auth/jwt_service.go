package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrMissingUser   = errors.New("user ID missing in token")
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// JWTClaims represents the JWT token claims. Tokens are issued by the identity
// service; the subject is the user id.
type JWTClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token operations
type JWTService struct {
	secretKey []byte
	expiry    time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secretKey: []byte(secret),
		expiry:    12 * time.Hour,
	}
}

// GenerateToken signs a token for a user. Used by tooling and tests; production
// tokens come from the identity service sharing the same secret.
func (s *JWTService) GenerateToken(userID, role, email string) (string, error) {
	now := time.Now()

	claims := JWTClaims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the caller identity
func (s *JWTService) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidClaims
	}

	if claims.Subject == "" {
		return Identity{}, ErrMissingUser
	}

	role := claims.Role
	if role != RoleAdmin {
		role = RoleStudent
	}

	return Identity{UserID: claims.Subject, Role: role, Email: claims.Email}, nil
}
