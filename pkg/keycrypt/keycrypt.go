// Package keycrypt implements the symmetric cipher used for API key tokens.
// A token is base64url(iv || aes-256-cbc ciphertext || hmac-sha256 tag); the
// AES and MAC keys are both derived from a single process-wide secret.
package keycrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrSecretRequired = errors.New("cipher secret is required")
	// ErrInvalidToken covers every decryption failure: malformed encoding,
	// truncated input, MAC mismatch, and bad padding. Callers must not be able
	// to tell which half of the validation failed.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	keySize = 32
	macSize = sha256.Size
)

// Cipher encrypts and decrypts API key tokens. Safe for concurrent use.
type Cipher struct {
	encKey []byte
	macKey []byte
}

// New derives the encryption and MAC keys from secret via HKDF-SHA256.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("gridsense-api-key"))

	keys := make([]byte, keySize*2)
	if _, err := io.ReadFull(kdf, keys); err != nil {
		return nil, err
	}

	return &Cipher{encKey: keys[:keySize], macKey: keys[keySize:]}, nil
}

// Encrypt returns a token for the given plaintext key. The IV is random, so
// encrypting the same plaintext twice yields different tokens.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded), aes.BlockSize+len(padded)+macSize)
	copy(out, iv)

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(out)
	out = mac.Sum(out)

	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt recovers the plaintext key from a token. Deterministic: the same
// token always yields the same result.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	if len(raw) < aes.BlockSize+aes.BlockSize+macSize {
		return "", ErrInvalidToken
	}

	body := raw[:len(raw)-macSize]
	tag := raw[len(raw)-macSize:]

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(body)

	if !hmac.Equal(tag, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}

	iv := body[:aes.BlockSize]
	ct := body[aes.BlockSize:]

	if len(ct)%aes.BlockSize != 0 {
		return "", ErrInvalidToken
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", err
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", ErrInvalidToken
	}

	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)

	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidToken
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, ErrInvalidToken
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidToken
		}
	}

	return data[:len(data)-padding], nil
}

// HashKey returns the deterministic digest of a plaintext key used for
// database lookups, so stored tokens can stay encrypted with random IVs.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// GenerateKey returns a random urlsafe API key of n bytes entropy.
func GenerateKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(buf), nil
}
