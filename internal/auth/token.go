// Package auth resolves the identity of the caller from a signed bearer token
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no bearer token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// Config defines fields used for parsing from environment variables
type Config struct {
	Secret   string        `env:"JWT_SECRET,required"`
	TokenTTL time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens carrying a user id
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthenticator(cfg Config) *Authenticator {
	return &Authenticator{secret: []byte(cfg.Secret), ttl: cfg.TokenTTL}
}

// GenerateToken issues a token for user valid for the configured ttl
func (a *Authenticator) GenerateToken(user int64) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies signature and expiry of raw and returns the user id it carries
func (a *Authenticator) ParseToken(raw string) (int64, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return 0, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// FromRequest reads the token from the Authorization header, then from the token query parameter.
// The query parameter serves websocket handshakes from browsers.
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrNoToken
		}
		return strings.TrimSpace(token), nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}
