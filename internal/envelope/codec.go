// Package envelope seals single values with an AEAD and renders them as
// "<nonceB64>:<ciphertextB64>" text, the form stored in ledger columns.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"familyledger/internal/keys"
	dErrors "familyledger/pkg/domain-errors"
)

// Algorithm names an AEAD construction. Both use a 256-bit key, a 96-bit nonce
// and a 128-bit tag.
type Algorithm string

const (
	AES256GCM        Algorithm = "aes-256-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

const (
	NonceSize = 12
	TagSize   = 16
	separator = ":"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AES256GCM:
		return AES256GCM, nil
	case ChaCha20Poly1305:
		return ChaCha20Poly1305, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported cipher algorithm %q", s))
	}
}

// Codec encrypts and decrypts envelopes. It holds no key; callers pass the
// installation key on each call. Safe for concurrent use.
type Codec struct {
	alg    Algorithm
	random io.Reader
}

type Option func(*Codec)

// WithRandom overrides the nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

func New(alg Algorithm, opts ...Option) (*Codec, error) {
	if alg != AES256GCM && alg != ChaCha20Poly1305 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported cipher algorithm %q", alg))
	}
	c := &Codec{alg: alg, random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) Algorithm() Algorithm {
	return c.alg
}

// Encrypt seals plaintext under key with a fresh nonce. Two calls with the
// same input produce different envelopes.
func (c *Codec) Encrypt(key keys.Key, plaintext []byte) (string, error) {
	aead, err := c.aead(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "read nonce")
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope. Shape problems yield CodeMalformedEnvelope; a
// failed tag check yields CodeAuthenticationFailed.
func (c *Codec) Decrypt(key keys.Key, env string) ([]byte, error) {
	nonceB64, contentB64, ok := strings.Cut(env, separator)
	if !ok || strings.Contains(contentB64, separator) {
		return nil, dErrors.New(dErrors.CodeMalformedEnvelope, "envelope must have exactly two parts")
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedEnvelope, "decode nonce")
	}
	if len(nonce) != NonceSize {
		return nil, dErrors.New(dErrors.CodeMalformedEnvelope,
			fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(nonce)))
	}
	content, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedEnvelope, "decode content")
	}
	if len(content) < TagSize {
		return nil, dErrors.New(dErrors.CodeMalformedEnvelope, "content shorter than authentication tag")
	}

	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, content, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthenticationFailed, "open envelope")
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

func (c *Codec) aead(key keys.Key) (cipher.AEAD, error) {
	material := key.Bytes()
	if len(material) != keys.Size {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable, "key is not initialised")
	}
	switch c.alg {
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(material)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init chacha20-poly1305")
		}
		return aead, nil
	default:
		block, err := aes.NewCipher(material)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init aes")
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init gcm")
		}
		return aead, nil
	}
}
