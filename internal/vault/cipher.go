package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMalformedEnvelope is returned for ciphertext that does not follow v<version>.<payload>
	ErrMalformedEnvelope = errors.New("malformed credential envelope")

	// ErrUnknownKeyVersion is returned for an envelope sealed with a key this process cannot derive
	ErrUnknownKeyVersion = errors.New("unknown credential key version")
)

const keyInfoPrefix = "data-vault/credential-key/v"

// Cipher seals token strings into versioned envelopes: v<version>.<base64url(nonce|ciphertext)>
type Cipher struct {
	master  []byte
	current int

	mu    sync.Mutex
	aeads map[int]cipher.AEAD
}

// NewCipher derives per-version keys from masterKey; version is the one used for new envelopes
func NewCipher(masterKey []byte, version int) (*Cipher, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes")
	}
	if version < 1 {
		return nil, fmt.Errorf("key version must be positive, got %d", version)
	}

	c := &Cipher{
		master:  append([]byte(nil), masterKey...),
		current: version,
		aeads:   make(map[int]cipher.AEAD),
	}
	if _, err := c.aead(version); err != nil {
		return nil, err
	}
	return c, nil
}

// KeyVersion returns the version tag of newly sealed envelopes
func (c *Cipher) KeyVersion() int {
	return c.current
}

// Seal encrypts plaintext under the current key version
func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := c.aead(c.current)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), c.additionalData(c.current))
	return "v" + strconv.Itoa(c.current) + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal with any version up to the current one
func (c *Cipher) Open(envelope string) (string, error) {
	tag, payload, ok := strings.Cut(envelope, ".")
	if !ok || len(tag) < 2 || tag[0] != 'v' {
		return "", ErrMalformedEnvelope
	}

	version, err := strconv.Atoi(tag[1:])
	if err != nil || version < 1 {
		return "", ErrMalformedEnvelope
	}
	if version > c.current {
		return "", fmt.Errorf("version %d: %w", version, ErrUnknownKeyVersion)
	}

	sealed, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	aead, err := c.aead(version)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformedEnvelope
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, c.additionalData(version))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plaintext), nil
}

func (c *Cipher) additionalData(version int) []byte {
	return []byte("v" + strconv.Itoa(version))
}

func (c *Cipher) aead(version int) (cipher.AEAD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if aead, ok := c.aeads[version]; ok {
		return aead, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, c.master, nil, []byte(keyInfoPrefix+strconv.Itoa(version)))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key v%d: %w", version, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher v%d: %w", version, err)
	}
	c.aeads[version] = aead
	return aead, nil
}
