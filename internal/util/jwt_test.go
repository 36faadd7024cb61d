package util

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("u_1", "admin", "secret")
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u_1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseJWT(token, "other")
	assert.Error(t, err)
}

func TestParseJWTRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u_1"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseJWT(signed, "secret")
	assert.Error(t, err)
}

func TestParseJWTRequiresUserID(t *testing.T) {
	token, err := GenerateJWT("", "user", "secret")
	require.NoError(t, err)
	_, err = ParseJWT(token, "secret")
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}
