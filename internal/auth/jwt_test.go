package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solix-monitor/solix-monitor-pro/internal/config"
	"github.com/solix-monitor/solix-monitor-pro/pkg/crypto"
)

func testManager(t *testing.T) *JWTManager {
	t.Helper()

	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	return NewJWTManager(&config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  config.Duration(time.Minute),
		RefreshTokenTTL: config.Duration(time.Hour),
		Username:        "admin",
		PasswordHash:    hash,
	})
}

func TestAuthenticate(t *testing.T) {
	m := testManager(t)

	assert.True(t, m.Authenticate("admin", "hunter2"))
	assert.False(t, m.Authenticate("admin", "wrong"))
	assert.False(t, m.Authenticate("intruder", "hunter2"))
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := testManager(t)

	access, refresh, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "solix-monitor", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m := testManager(t)
	access, _, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{
		Secret:         "other-secret",
		AccessTokenTTL: config.Duration(time.Minute),
	})

	_, err = other.ValidateToken(access)
	assert.Error(t, err)
}

func TestRefreshToken(t *testing.T) {
	m := testManager(t)
	_, refresh, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)

	access, newRefresh, err := m.RefreshToken(refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, newRefresh)

	_, _, err = m.RefreshToken("not-a-token")
	assert.Error(t, err)
}
