package cachestore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const keyFileName = "cache.key"

// sealedPrefix tags values written by sealer so a format change can be
// detected instead of misread.
const sealedPrefix = "enc:x1:"

// keyPathFor returns the key file that belongs to dbPath.
func keyPathFor(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), keyFileName)
}

// readKey returns the key at path, or nil when none has been created.
func readKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cachestore: read key: %w", err)
	case len(key) != chacha20poly1305.KeySize:
		return nil, fmt.Errorf("cachestore: key %s is %d bytes, want %d", path, len(key), chacha20poly1305.KeySize)
	}
	return key, nil
}

// writeKey creates a fresh key at path. The key is staged in a temp file
// and hard-linked into place so a concurrent writer can never be
// overwritten; the loser adopts the winner's key.
func writeKey(path string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cachestore: generate key: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+keyFileName+".*")
	if err != nil {
		return nil, fmt.Errorf("cachestore: stage key: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, werr := tmp.Write(key)
	cerr := tmp.Chmod(0o600)
	if err := errors.Join(werr, cerr, tmp.Close()); err != nil {
		return nil, fmt.Errorf("cachestore: stage key: %w", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return readKey(path)
		}
		return nil, fmt.Errorf("cachestore: install key: %w", err)
	}
	return key, nil
}

// sealer encrypts cache values at rest. Cached documents carry application
// API keys, so nothing is written in the clear.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cachestore: init cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal binds the ciphertext to key, so a value copied to another row does
// not decrypt.
func (s *sealer) seal(key string, plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, plaintext, []byte(key))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *sealer) open(key, stored string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return nil, errors.New("value is not sealed")
	}
	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return nil, errors.New("sealed value truncated")
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return plaintext, nil
}
