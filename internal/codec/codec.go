// Package codec protects quarantined ledger data at rest.
//
// Tokens are AES-256-CBC ciphertexts with a fresh random IV per call, encoded as
// "base64(iv):base64(ciphertext)". Natural keys that no longer need to be
// recoverable are replaced by a SHA-256 hex digest.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"regsync/pkg/platform/sentinel"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	ivSize  = aes.BlockSize
)

// Codec encrypts, decrypts and hashes sensitive ledger fields.
// It is safe for concurrent use.
type Codec struct {
	block cipher.Block
	rand  io.Reader
}

// Recovered is the decrypted content of a ledger entry.
type Recovered struct {
	NaturalKey string
	Payload    json.RawMessage
}

// New builds a codec from a 32-byte key. Any other length fails immediately.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", sentinel.ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrInvalidKey, err)
	}
	return &Codec{block: block, rand: rand.Reader}, nil
}

// Encrypt returns "ivBase64:cipherBase64" for plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed tokens wrap sentinel.ErrDecode.
func (c *Codec) Decrypt(token string) (string, error) {
	ivPart, cipherPart, ok := strings.Cut(token, ":")
	if !ok {
		return "", fmt.Errorf("%w: token has no iv separator", sentinel.ErrDecode)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", sentinel.ErrDecode, err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", sentinel.ErrDecode, ivSize, len(iv))
	}
	ct, err := base64.StdEncoding.DecodeString(cipherPart)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", sentinel.ErrDecode, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a block multiple", sentinel.ErrDecode, len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)
	plain, err := unpad(out)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HashNaturalKey returns the hex SHA-256 digest of value. There is no inverse.
func (c *Codec) HashNaturalKey(value string) string {
	return HashNaturalKey(value)
}

// HashNaturalKey is the package-level form of Codec.HashNaturalKey.
func HashNaturalKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// DecryptRecoveredEntry decrypts a ledger entry's natural key and payload and
// checks that the payload is a JSON document. An empty natural key token means
// the source record carried none.
func (c *Codec) DecryptRecoveredEntry(encryptedNaturalKey, encryptedPayload string) (*Recovered, error) {
	var naturalKey string
	if encryptedNaturalKey != "" {
		key, err := c.Decrypt(encryptedNaturalKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt natural key: %w", err)
		}
		naturalKey = key
	}
	payload, err := c.Decrypt(encryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", sentinel.ErrDecode)
	}
	return &Recovered{NaturalKey: naturalKey, Payload: json.RawMessage(payload)}, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", sentinel.ErrDecode)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", sentinel.ErrDecode)
		}
	}
	return b[:len(b)-n], nil
}
