package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EncryptedPrefix 标记配置中需要解密的凭证
const EncryptedPrefix = "enc:"

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// CredentialCipher 用 AES-GCM 加解密上游凭证，格式为 base64(nonce || ciphertext)
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher key 长度必须是 16、24 或 32 字节 (AES-128/192/256)
func NewCredentialCipher(key string) (*CredentialCipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key length: %d. Must be 16, 24, or 32 bytes", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialCipher{aead: aead}, nil
}

// Encrypt 返回带 enc: 前缀的密文，可以直接写进环境变量
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 接受带或不带 enc: 前缀的密文
func (c *CredentialCipher) Decrypt(value string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	n := c.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncrypted 是否为加密凭证
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}
