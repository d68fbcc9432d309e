package webpushcrypto

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
)

// PrivateJWK is the JSON Web Key representation of a P-256 private key
// persisted at storage key "privateEncKey" (spec §6).
type PrivateJWK struct {
	Kty     string   `json:"kty"`
	Crv     string   `json:"crv"`
	D       string   `json:"d"`
	X       string   `json:"x"`
	Y       string   `json:"y"`
	Ext     bool     `json:"ext"`
	KeyOps  []string `json:"key_ops"`
}

// ExportPrivateJWK exports a keypair's private key as a JWK.
func ExportPrivateJWK(k *KeyPair) PrivateJWK {
	pub := k.Public.Bytes() // 0x04 || X || Y, 65 bytes
	x := pub[1:33]
	y := pub[33:65]
	d := k.Private.Bytes() // 32-byte big-endian scalar

	return PrivateJWK{
		Kty:    "EC",
		Crv:    "P-256",
		D:      base64.RawURLEncoding.EncodeToString(d),
		X:      base64.RawURLEncoding.EncodeToString(x),
		Y:      base64.RawURLEncoding.EncodeToString(y),
		Ext:    true,
		KeyOps: []string{"deriveKey", "deriveBits"},
	}
}

// ParsePrivateJWK parses a JWK back into a keypair. A nil jwk (the
// "null" sentinel spec §4.3 calls out) returns (nil, nil) — absent, not
// an error. Malformed key material returns an error.
func ParsePrivateJWK(jwk *PrivateJWK) (*KeyPair, error) {
	if jwk == nil {
		return nil, nil
	}
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("webpushcrypto: unsupported JWK kty/crv %q/%q", jwk.Kty, jwk.Crv)
	}

	d, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: decode JWK d: %w", err)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: decode JWK x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: decode JWK y: %w", err)
	}

	priv, err := ecdh.P256().NewPrivateKey(leftPad32(d))
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: invalid JWK private scalar: %w", err)
	}

	pub := priv.PublicKey()
	wantPub := uncompressedPoint(leftPad32(x), leftPad32(y))
	if !bytesEqual(pub.Bytes(), wantPub) {
		return nil, fmt.Errorf("webpushcrypto: JWK public coordinates do not match private scalar")
	}

	return &KeyPair{Private: priv, Public: pub}, nil
}

// leftPad32 left-pads b with zero bytes to 32 bytes, so a JWK
// coordinate that base64url-decoded to fewer than 32 bytes (a leading
// zero byte was dropped) still parses correctly.
func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func uncompressedPoint(x, y []byte) []byte {
	out := make([]byte, 0, 65)
	out = append(out, 0x04)
	out = append(out, x...)
	out = append(out, y...)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
