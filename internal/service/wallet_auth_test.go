package service

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signLogin(t *testing.T, key solana.PrivateKey, issuedAt int64) string {
	t.Helper()
	sig, err := key.Sign([]byte(LoginMessage(key.PublicKey().String(), issuedAt)))
	require.NoError(t, err)
	return sig.String()
}

func TestValidateWalletLogin(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	player := key.PublicKey().String()

	tests := []struct {
		name     string
		player   string
		issuedAt int64
		sig      string
		ok       bool
	}{
		{"valid", player, now.Unix(), signLogin(t, key, now.Unix()), true},
		{"small skew", player, now.Unix() + 60, signLogin(t, key, now.Unix()+60), true},
		{"too old", player, now.Add(-2 * time.Hour).Unix(), signLogin(t, key, now.Add(-2*time.Hour).Unix()), false},
		{"from the future", player, now.Add(time.Hour).Unix(), signLogin(t, key, now.Add(time.Hour).Unix()), false},
		{"other signer", player, now.Unix(), signLogin(t, other, now.Unix()), false},
		{"timestamp changed", player, now.Unix() - 1, signLogin(t, key, now.Unix()), false},
		{"bad key", "not-a-key", now.Unix(), signLogin(t, key, now.Unix()), false},
		{"bad signature", player, now.Unix(), "zzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, ok := ValidateWalletLogin(tt.player, tt.issuedAt, tt.sig, now)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, key.PublicKey(), pk)
			}
		})
	}
}

func TestJWTRoundTrip(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateJWT("player-1")
	require.NoError(t, err)

	player, err := ParseJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", player)

	_, err = ParseJWT(token + "x")
	assert.Error(t, err)

	InitJWT("another-secret")
	_, err = ParseJWT(token)
	assert.Error(t, err)
}
