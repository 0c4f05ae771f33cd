package database

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyFileName is the token sealing key kept next to the database file.
const KeyFileName = "deploywatch.key"

const (
	sealedPrefix  = "sealed:v1:"
	masterKeySize = 32
	hkdfInfoToken = "deploywatch-connection-token"
)

// ErrTokenCorrupt is returned when a stored token cannot be unsealed
var ErrTokenCorrupt = errors.New("stored token cannot be decrypted")

// sealer encrypts API tokens at rest with XChaCha20-Poly1305. The connection
// id is bound as additional data, so a sealed token only opens for its record.
type sealer struct {
	aead cipher.AEAD
}

// loadSealer reads the master key at path, creating it on first use.
func loadSealer(path string) (*sealer, error) {
	master, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		master = make([]byte, masterKeySize)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("failed to generate token key: %w", err)
		}

		if err := os.WriteFile(path, master, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write token key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read token key: %w", err)
	}

	if len(master) != masterKeySize {
		return nil, fmt.Errorf("token key %s has %d bytes, want %d", path, len(master), masterKeySize)
	}

	return newSealer(master)
}

func newSealer(master []byte) (*sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := hkdf.New(sha256.New, master, nil, []byte(hkdfInfoToken)).Read(key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &sealer{aead: aead}, nil
}

func sealed(token string) bool {
	return strings.HasPrefix(token, sealedPrefix)
}

// seal returns the encoded ciphertext of token. Empty and already sealed
// tokens are returned unchanged.
func (s *sealer) seal(id, token string) (string, error) {
	if token == "" || sealed(token) {
		return token, nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(token), []byte(id))

	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// open reverses seal. Tokens written before sealing existed pass through.
func (s *sealer) open(id, stored string) (string, error) {
	if !sealed(stored) {
		return stored, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(data) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", fmt.Errorf("%w: connection %s", ErrTokenCorrupt, id)
	}

	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]

	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return "", fmt.Errorf("%w: connection %s", ErrTokenCorrupt, id)
	}

	return string(plain), nil
}
