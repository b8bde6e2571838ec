package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func encryptForTest(t *testing.T, k *KeyContext, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(k.key)
	if err != nil {
		t.Fatalf("build cipher: %v", err)
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte(nil), plaintext...), make([]byte, padLen)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	iv := make([]byte, aes.BlockSize) // fixed IV is fine for a round-trip test
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(append(iv, out...))
}

func TestDecodeRefreshTokenRoundTrip(t *testing.T) {
	k, err := NewKeyContext("test-sign-key")
	if err != nil {
		t.Fatalf("new key context: %v", err)
	}
	rt := RefreshToken{UserID: "user-1", TokenID: "tok-1", ExpiresAt: time.Unix(1700000000, 0).UTC()}
	data, err := json.Marshal(rt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	token := encryptForTest(t, k, data)

	got, err := k.DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != rt.UserID || got.TokenID != rt.TokenID {
		t.Fatalf("expected %+v, got %+v", rt, got)
	}
}

func TestDecodeRefreshTokenRejectsGarbage(t *testing.T) {
	k, err := NewKeyContext("test-sign-key")
	if err != nil {
		t.Fatalf("new key context: %v", err)
	}
	if _, err := k.DecodeRefreshToken("not-valid-base64!!"); err == nil {
		t.Fatal("expected an error for malformed base64")
	}
}

func TestNewKeyContextRejectsEmptySignKey(t *testing.T) {
	if _, err := NewKeyContext(""); err == nil {
		t.Fatal("expected an error for an empty sign key")
	}
}
