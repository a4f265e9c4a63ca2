/**
 * @description
 * This package implements the encrypted envelope exchanged with the funds-transfer
 * backend. A payload is canonicalized to compact JSON, encrypted with AES-256-CBC under
 * a key derived from the shared secret, and shipped as base64(salt || iv || ciphertext).
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand, crypto/sha256: Standard Go crypto primitives.
 * - golang.org/x/crypto/pbkdf2: Password-based key derivation shared with the backend.
 *
 * @notes
 * - Salt and IV are drawn fresh from crypto/rand for every envelope.
 * - The codec keeps no state besides the bound key and is safe for concurrent use.
 */
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize         = 16
	IVSize           = 16
	KeySize          = 32
	DerivationRounds = 10000
)

var (
	ErrEmptyPayload        = errors.New("envelope: json string payload is empty")
	ErrInvalidPayload      = errors.New("envelope: payload is not valid json")
	ErrEmptySecretKey      = errors.New("envelope: secret key is not configured")
	ErrEnvelopeTooShort    = errors.New("envelope: invalid encrypted payload length")
	ErrMalformedCiphertext = errors.New("envelope: ciphertext is not a whole number of blocks")
	ErrBadPadding          = errors.New("envelope: invalid padding")
)

// Codec binds a shared secret so callers do not have to pass it around.
type Codec struct {
	secretKey string
}

// NewCodec creates a codec for the given shared secret.
func NewCodec(secretKey string) *Codec {
	return &Codec{secretKey: secretKey}
}

// Encrypt seals a JSON payload with the bound secret.
func (c *Codec) Encrypt(plain json.RawMessage) (string, error) {
	return Encrypt(plain, c.secretKey)
}

// EncryptValue marshals v and seals it with the bound secret.
func (c *Codec) EncryptValue(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("envelope: failed to marshal payload: %w", err)
	}
	return Encrypt(raw, c.secretKey)
}

// Decrypt opens an envelope with the bound secret.
func (c *Codec) Decrypt(envelopeB64 string) (json.RawMessage, error) {
	return Decrypt(envelopeB64, c.secretKey)
}

// Encrypt canonicalizes plain and returns the base64 envelope.
func Encrypt(plain json.RawMessage, secretKey string) (string, error) {
	if secretKey == "" {
		return "", ErrEmptySecretKey
	}
	text, err := Canonicalize(plain)
	if err != nil {
		return "", err
	}

	salt, err := randomBytes(SaltSize)
	if err != nil {
		return "", err
	}
	iv, err := randomBytes(IVSize)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(DeriveKey(secretKey, salt))
	if err != nil {
		return "", fmt.Errorf("envelope: failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(text, aes.BlockSize)
	out := make([]byte, SaltSize+IVSize+len(padded))
	copy(out, salt)
	copy(out[SaltSize:], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[SaltSize+IVSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 envelope (either alphabet) and returns the JSON it carried.
// Plaintext that is not JSON comes back as a JSON string. A JSON string whose content
// is itself JSON is unwrapped one level.
func Decrypt(envelopeB64 string, secretKey string) (json.RawMessage, error) {
	if secretKey == "" {
		return nil, ErrEmptySecretKey
	}
	raw, err := decodeBase64(NormalizeBase64(envelopeB64))
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to decode base64: %w", err)
	}
	if len(raw) < SaltSize+IVSize {
		return nil, ErrEnvelopeTooShort
	}

	salt := raw[:SaltSize]
	iv := raw[SaltSize : SaltSize+IVSize]
	body := raw[SaltSize+IVSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(DeriveKey(secretKey, salt))
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to create cipher: %w", err)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	plain = bytes.TrimPrefix(plain, []byte("\xef\xbb\xbf"))

	return interpret(plain)
}

// DeriveKey stretches the shared secret with the envelope salt.
func DeriveKey(secretKey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secretKey), salt, DerivationRounds, KeySize, sha256.New)
}

// NormalizeBase64 maps the URL-safe alphabet onto the standard one.
func NormalizeBase64(input string) string {
	if input == "" {
		return input
	}
	return strings.NewReplacer("-", "+", "_", "/").Replace(input)
}

// Canonicalize produces the exact text that gets encrypted. A JSON string value is
// re-parsed as JSON when possible; every other value is compacted as-is.
func Canonicalize(plain json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(plain)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ErrInvalidPayload
	}

	if trimmed[0] != '"' {
		return compact(trimmed)
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyPayload
	}
	if inner := []byte(s); json.Valid(inner) {
		return compact(inner)
	}
	return json.Marshal(s)
}

func interpret(plain []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(plain)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		wrapped, err := json.Marshal(string(plain))
		if err != nil {
			return nil, fmt.Errorf("envelope: failed to wrap plaintext: %w", err)
		}
		return wrapped, nil
	}

	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err == nil && strings.TrimSpace(inner) != "" {
			if innerBytes := []byte(inner); json.Valid(innerBytes) {
				return compact(innerBytes)
			}
		}
	}

	return json.RawMessage(trimmed), nil
}

func compact(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, src); err != nil {
		return nil, ErrInvalidPayload
	}
	return buf.Bytes(), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if rem := len(s) % 4; rem != 0 && !strings.HasSuffix(s, "=") {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("envelope: failed to read random bytes: %w", err)
	}
	return b, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
