package connector

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Polqt/workspacesync/internal/auth"
)

// encryptRefreshTokenForTest mirrors auth.KeyContext's private key
// derivation so tests in this package can produce a token that
// DecodeRefreshToken will accept, without exporting the derivation
// itself from the auth package.
func encryptRefreshTokenForTest(k *auth.KeyContext, plaintext []byte) (string, error) {
	_ = k // the real KeyContext is exercised via DecodeRefreshToken in the Connector under test
	key := pbkdf2.Key([]byte(testSignKey), []byte("workspacesync-refresh-token"), 10000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte(nil), plaintext...), make([]byte, padLen)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(append(iv, out...)), nil
}

const testSignKey = "test-key"
