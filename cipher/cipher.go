// Package cipher implements a keyed shift cipher for obfuscating payloads.
//
// Encode base64-encodes the input and shifts each base64 byte down by the
// matching byte of a repeating key, modulo 128, so the output is 7-bit
// ASCII. Decode reverses both steps. It obfuscates; it does not encrypt.
// Use package crypt for confidentiality.
package cipher

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultKey is the key used by the package-level Encode and Decode.
const DefaultKey = "abcdef"

var (
	ErrEmptyKey     = errors.New("cipher key is empty")
	ErrNonASCIIKey  = errors.New("cipher key must be ASCII")
	ErrNonASCIIText = errors.New("cipher text must be ASCII")
)

// Codec shifts base64 text by a repeating key.
type Codec struct {
	key []byte
}

// New creates a codec for key.
func New(key string) (*Codec, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	for i := 0; i < len(key); i++ {
		if key[i] >= 0x80 {
			return nil, ErrNonASCIIKey
		}
	}
	return &Codec{key: []byte(key)}, nil
}

var defaultCodec = &Codec{key: []byte(DefaultKey)}

// Encode obfuscates text with DefaultKey.
func Encode(text string) string {
	return defaultCodec.Encode(text)
}

// Decode reverses Encode with DefaultKey.
func Decode(text string) (string, error) {
	return defaultCodec.Decode(text)
}

// Encode obfuscates text.
func (c *Codec) Encode(text string) string {
	b64 := base64.StdEncoding.EncodeToString([]byte(text))

	out := make([]byte, len(b64))
	for i := 0; i < len(b64); i++ {
		out[i] = (b64[i] - c.key[i%len(c.key)]) & 0x7f
	}
	return string(out)
}

// Decode reverses Encode.
func (c *Codec) Decode(text string) (string, error) {
	b64 := make([]byte, len(text))
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			return "", fmt.Errorf("%w: byte %d", ErrNonASCIIText, i)
		}
		b64[i] = (text[i] + c.key[i%len(c.key)]) & 0x7f
	}

	plain, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return "", fmt.Errorf("failed to decode cipher text: %w", err)
	}
	return string(plain), nil
}
