package helpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, "user-directory")

	tok, exp, err := m.GenerateToken("svc", ScopeUsersWrite)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Subject)
	assert.Equal(t, ScopeUsersWrite, claims.Scope)
	assert.Equal(t, "user-directory", claims.Issuer)
}

func TestJWTRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, "user-directory")

	otherIssuer, _, err := NewJWTManager("secret", time.Hour, "someone-else").GenerateToken("svc", ScopeUsersWrite)
	require.NoError(t, err)
	_, err = m.ParseToken(otherIssuer)
	assert.Error(t, err)

	// alg confusion: an HS512 token signed with the right key is still refused
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		Scope:            ScopeUsersWrite,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "user-directory", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ParseToken(hs512)
	assert.Error(t, err)

	_, err = m.ParseToken("not.a.token")
	assert.Error(t, err)
}
