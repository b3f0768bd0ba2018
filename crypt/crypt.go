// Package crypt encrypts short text payloads with a shared secret.
//
// The key is derived from the secret with BLAKE3 in key derivation mode.
// Payloads are sealed with XChaCha20-Poly1305 under a random nonce and
// rendered as standard base64 of:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte is authenticated as additional data, so tampering with
// it fails decryption. Encrypting the same text twice yields different
// output.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultSecret is the secret used by the package-level Encrypt and Decrypt.
const DefaultSecret = "abcdefgh"

// Version is the format byte prepended to every sealed payload.
const Version byte = 0x01

// Overhead is the size added to a payload before base64 encoding.
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

const kdfContext = "roomlink 2024 crypt payload key v1"

var (
	ErrEmptySecret        = errors.New("crypt secret is empty")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrUnsupportedVersion = errors.New("unsupported ciphertext version")
	ErrDecryptFailed      = errors.New("decryption failed")
)

// Box seals and opens payloads under one derived key.
type Box struct {
	key [chacha20poly1305.KeySize]byte
}

// New derives a box from secret.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	b := &Box{}
	blake3.DeriveKey(kdfContext, []byte(secret), b.key[:])
	return b, nil
}

var defaultBox, _ = New(DefaultSecret)

// Encrypt seals text with DefaultSecret.
func Encrypt(text string) (string, error) {
	return defaultBox.Encrypt(text)
}

// Decrypt opens text sealed with DefaultSecret.
func Decrypt(text string) (string, error) {
	return defaultBox.Decrypt(text)
}

// Encrypt seals text and returns it base64 encoded.
func (b *Box) Encrypt(text string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	blob := make([]byte, 1+chacha20poly1305.NonceSizeX, Overhead+len(text))
	blob[0] = Version
	nonce := blob[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating random nonce: %w", err)
	}

	blob = aead.Seal(blob, nonce, []byte(text), []byte{Version})
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens text produced by Encrypt.
func (b *Box) Decrypt(text string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(blob) < Overhead {
		return "", fmt.Errorf("%w: %d bytes, need at least %d", ErrCiphertextTooShort, len(blob), Overhead)
	}
	if blob[0] != Version {
		return "", fmt.Errorf("%w: %#x", ErrUnsupportedVersion, blob[0])
	}

	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
