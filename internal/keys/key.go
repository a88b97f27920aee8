package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Size is the key length in bytes (AES-256 / ChaCha20).
const Size = 32

// Key is the installation's symmetric data key. The material is unexported and
// every formatting path prints a placeholder, so a Key that ends up in a log
// line or an error message does not leak.
type Key struct {
	material []byte
}

// Generate draws a fresh key from r (crypto/rand.Reader when nil).
func Generate(r io.Reader) (Key, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Key{}, fmt.Errorf("generate key material: %w", err)
	}
	return Key{material: buf}, nil
}

// FromBytes wraps existing material. The slice is copied.
func FromBytes(b []byte) (Key, error) {
	if len(b) != Size {
		return Key{}, fmt.Errorf("key must be %d bytes, got %d", Size, len(b))
	}
	return Key{material: append([]byte(nil), b...)}, nil
}

// Bytes returns a copy of the key material.
func (k Key) Bytes() []byte {
	return append([]byte(nil), k.material...)
}

func (k Key) IsZero() bool {
	return len(k.material) == 0
}

// Equal compares two keys in constant time.
func (k Key) Equal(other Key) bool {
	return len(k.material) == len(other.material) &&
		subtle.ConstantTimeCompare(k.material, other.material) == 1
}

func (k Key) String() string { return "keys.Key([redacted])" }

func (k Key) GoString() string { return k.String() }

func (k Key) LogValue() slog.Value { return slog.StringValue("[redacted]") }

// jwk is the exported form: an "oct" JSON Web Key, the shape browsers emit
// for an extractable AES-GCM key.
type jwk struct {
	Kty    string   `json:"kty"`
	K      string   `json:"k"`
	Alg    string   `json:"alg,omitempty"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops,omitempty"`
}

// Export serializes k to its persistable JWK form.
func Export(k Key) ([]byte, error) {
	if len(k.material) != Size {
		return nil, fmt.Errorf("cannot export key of %d bytes", len(k.material))
	}
	return json.Marshal(jwk{
		Kty:    "oct",
		K:      base64.RawURLEncoding.EncodeToString(k.material),
		Alg:    "A256GCM",
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	})
}

// Import re-derives a key from its exported form. Import(Export(k)) is equal
// to k.
func Import(data []byte) (Key, error) {
	var j jwk
	if err := json.Unmarshal(data, &j); err != nil {
		return Key{}, fmt.Errorf("decode jwk: %w", err)
	}
	if j.Kty != "oct" {
		return Key{}, fmt.Errorf("unsupported jwk kty %q", j.Kty)
	}
	material, err := base64.RawURLEncoding.DecodeString(j.K)
	if err != nil {
		return Key{}, fmt.Errorf("decode jwk material: %w", err)
	}
	return FromBytes(material)
}
