// Package auth decodes the AES-encrypted refresh token a connector
// presents on upgrade and delegates its validation to an external user
// store, mirroring context.rs's ctx.key.decrypt_aes_base64(token) and
// the ws_handler flow it feeds in the original source this spec was
// distilled from.
package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidToken is returned for any token that fails to decrypt,
// base64-decode, or JSON-unmarshal into a RefreshToken.
var ErrInvalidToken = errors.New("auth: invalid refresh token")

const (
	pbkdf2Iterations = 10000
	aesKeySize       = 32 // AES-256
)

// RefreshToken is the decrypted payload a connector's token query
// parameter carries.
type RefreshToken struct {
	UserID    string    `json:"user_id"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KeyContext holds the derived AES key used to decrypt refresh tokens,
// mirroring KeyContext's role in the original source — SIGN_KEY in, a
// usable cipher key out. No third-party AES implementation exists
// anywhere in the retrieval pack, so the block cipher itself is stdlib
// (crypto/aes, crypto/cipher); only the key derivation step uses a
// pack-grounded third-party library.
type KeyContext struct {
	key []byte
}

// NewKeyContext derives a 32-byte AES key from signKey via PBKDF2. An
// empty signKey is rejected: unlike the original's "sign key optional in
// dev," this implementation has no dev-mode fallback and a caller
// wanting one must generate a random SIGN_KEY explicitly (see
// internal/config).
func NewKeyContext(signKey string) (*KeyContext, error) {
	if signKey == "" {
		return nil, errors.New("auth: sign key must not be empty")
	}
	salt := []byte("workspacesync-refresh-token")
	key := pbkdf2.Key([]byte(signKey), salt, pbkdf2Iterations, aesKeySize, sha256.New)
	return &KeyContext{key: key}, nil
}

// DecryptAESBase64 reverses the connector's token parameter encoding: a
// base64 string wrapping an AES-CBC ciphertext whose first block is the
// IV, matching decrypt_aes_base64's contract.
func (k *KeyContext) DecryptAESBase64(token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrInvalidToken, err)
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("auth: build cipher: %w", err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: malformed ciphertext length", ErrInvalidToken)
	}
	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrInvalidToken)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return unpadPKCS7(plaintext)
}

// DecodeRefreshToken decrypts token and parses it into a RefreshToken.
// Returns ErrInvalidToken for any failure along that chain — the
// Connector treats every such failure identically (spec §4.5:
// "malformed or undecryptable token behaves exactly like an invalid
// one").
func (k *KeyContext) DecodeRefreshToken(token string) (*RefreshToken, error) {
	data, err := k.DecryptAESBase64(token)
	if err != nil {
		return nil, err
	}
	var rt RefreshToken
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("%w: json decode: %v", ErrInvalidToken, err)
	}
	return &rt, nil
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrInvalidToken)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: bad PKCS7 padding", ErrInvalidToken)
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, fmt.Errorf("%w: bad PKCS7 padding", ErrInvalidToken)
	}
	return data[:len(data)-padLen], nil
}
