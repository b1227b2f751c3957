package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// HKDF info labels for keys derived from the master key.
const (
	LabelTokenSigning = "token-signing"
	LabelImageAtRest  = "image-at-rest"
)

// DeriveKey derives a 32-byte subkey from the master key using HKDF-SHA256.
func DeriveKey(master []byte, label string) ([]byte, error) {
	if len(master) != 32 {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte(label))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseMasterKey decodes a 64-character hex master key.
func ParseMasterKey(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("master key length must be 32 bytes (hex 64 chars)")
	}
	return b, nil
}

// LoadMasterKey prefers the hex value, then the key file.
func LoadMasterKey(hexValue, path string) ([]byte, error) {
	if strings.TrimSpace(hexValue) != "" {
		return ParseMasterKey(hexValue)
	}
	if path == "" {
		return nil, fmt.Errorf("MASTER_KEY_HEX not set and no master key file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY_HEX not set and %s not readable: %w", path, err)
	}
	return ParseMasterKey(string(data))
}

// NewMasterKeyHex returns a fresh random master key in hex.
func NewMasterKeyHex() (string, error) {
	key, err := generateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
