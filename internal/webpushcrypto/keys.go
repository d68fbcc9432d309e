// Package webpushcrypto implements the Web Push cryptographic stack
// spec §4.3 requires: ECDH P-256 keypairs, JWK export/import, RFC 8291
// HKDF-SHA256 key derivation, AES-128-GCM decryption, RFC 8188 record
// padding removal, and VAPID (RFC 8292) signature verification.
//
// Grounded on other_examples/…pantry-notify-webpush.go, the only
// Web-Push-shaped crypto code in the retrieval pack: it uses
// crypto/ecdh for P-256 (Go 1.24 stdlib, no third-party curve library
// needed) and golang.org/x/crypto/hkdf for key derivation. That
// reference implements the sender (encrypt) side; this package
// implements the client (decrypt) side the spec calls for, plus an
// Encrypt helper used only by tests to build records to decrypt.
package webpushcrypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/cobalt-oss/autopush-client/internal/codec"
)

// uncompressedP256Len is the length of an uncompressed P-256 point:
// 0x04 || X (32 bytes) || Y (32 bytes).
const uncompressedP256Len = 65

// KeyPair is an ECDH P-256 keypair. Public is always the 65-byte
// uncompressed point (the p256dh value, spec §3).
type KeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// GenerateECKeys generates a fresh ECDH P-256 keypair.
func GenerateECKeys() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: generate key: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// PublicKeyBytes returns the 65-byte uncompressed public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.Public.Bytes()
}

// ParseUncompressedPublicKey validates and parses a 65-byte
// uncompressed P-256 public key, as used for the sender's key in an
// aes128gcm record header and for a VAPID application server key.
func ParseUncompressedPublicKey(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != uncompressedP256Len {
		return nil, fmt.Errorf("webpushcrypto: public key must be %d bytes, got %d", uncompressedP256Len, len(b))
	}
	if b[0] != 0x04 {
		return nil, fmt.Errorf("webpushcrypto: public key must be uncompressed (leading 0x04)")
	}
	pub, err := ecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: invalid public key: %w", err)
	}
	return pub, nil
}

// AuthSecret returns 16 random bytes suitable for the spec §3 "auth"
// value.
func AuthSecret() ([]byte, error) {
	return codec.RandomBytes(16)
}
