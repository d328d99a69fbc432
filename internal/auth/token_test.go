package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestParseToken(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(Config{Secret: "secret", TokenTTL: time.Hour})

	token, err := a.GenerateToken(42)
	require.NoError(t, err)

	user, err := a.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), user)
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()
	token, err := NewAuthenticator(Config{Secret: "one", TokenTTL: time.Hour}).GenerateToken(42)
	require.NoError(t, err)

	_, err = NewAuthenticator(Config{Secret: "two", TokenTTL: time.Hour}).ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(Config{Secret: "secret", TokenTTL: -time.Minute})

	token, err := a.GenerateToken(42)
	require.NoError(t, err)

	_, err = a.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_NoUser(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(Config{Secret: "secret", TokenTTL: time.Hour})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(Config{Secret: "secret", TokenTTL: time.Hour})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 42}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/ws?token=query", nil)
	token, err := FromRequest(r)
	require.NoError(t, err)
	require.Equal(t, "query", token)

	r.Header.Set("Authorization", "Bearer header")
	token, err = FromRequest(r)
	require.NoError(t, err)
	require.Equal(t, "header", token)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = FromRequest(r)
	require.ErrorIs(t, err, ErrNoToken)

	_, err = FromRequest(httptest.NewRequest("POST", "/rooms/get", nil))
	require.ErrorIs(t, err, ErrNoToken)
}
