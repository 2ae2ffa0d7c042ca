package service

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	loginMaxAge   = time.Hour
	loginMaxSkew  = 5 * time.Minute
	loginTemplate = "fairwager login\nplayer: %s\nissued_at: %d"
)

// LoginMessage is the text a wallet signs to obtain a session token
func LoginMessage(player string, issuedAt int64) string {
	return fmt.Sprintf(loginTemplate, player, issuedAt)
}

// ValidateWalletLogin verifies an ed25519 signature over LoginMessage and
// checks that issued_at is recent to mitigate replay attacks
func ValidateWalletLogin(player string, issuedAt int64, signature string, now time.Time) (solana.PublicKey, bool) {
	pk, err := solana.PublicKeyFromBase58(player)
	if err != nil {
		return solana.PublicKey{}, false
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return solana.PublicKey{}, false
	}
	if !sig.Verify(pk, []byte(LoginMessage(player, issuedAt))) {
		return solana.PublicKey{}, false
	}

	// allow small clock skew, but reject anything older than an hour
	age := now.Sub(time.Unix(issuedAt, 0))
	if age > loginMaxAge || age < -loginMaxSkew {
		return solana.PublicKey{}, false
	}
	return pk, true
}
