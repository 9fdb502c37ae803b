package pass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"fitpass/internal/domain"
)

// ErrInvalidToken is returned for tokens that do not decrypt under the key.
var ErrInvalidToken = errors.New("invalid pass token")

// TokenSealer encrypts pass claims with AES-256-GCM and hex encodes the
// nonce-prefixed ciphertext, so the scan payload carries no readable data.
type TokenSealer struct {
	aead cipher.AEAD
}

// NewTokenSealer takes a hex encoded 32-byte key.
func NewTokenSealer(hexKey string) (*TokenSealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: token key is not hex: %v", domain.ErrConfiguration, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: token key must be 32 bytes, got %d", domain.ErrConfiguration, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return &TokenSealer{aead: aead}, nil
}

func (s *TokenSealer) Seal(claims domain.TokenClaims) (string, error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode token claims: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

func (s *TokenSealer) Open(token string) (*domain.TokenClaims, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	ns := s.aead.NonceSize()
	if len(raw) <= ns {
		return nil, ErrInvalidToken
	}

	plaintext, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims domain.TokenClaims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Code == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
