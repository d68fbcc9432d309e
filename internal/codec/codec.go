// Package codec provides the byte-level encoding helpers the protocol
// engine uses everywhere: base64 and base64url with and without
// padding, UTF-8 conversions, and CSPRNG random byte generation.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("codec: random bytes: %w", err)
	}
	return b, nil
}

// Base64URLEncode encodes b as unpadded base64url, the encoding used on
// the wire for auth secrets, p256dh keys, and notification payloads.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded base64url. It also accepts padded
// input, since some servers are not strict about trailing '='.
func Base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid base64url: %w", err)
	}
	return b, nil
}

// Base64Encode encodes b as standard padded base64.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes standard padded base64.
func Base64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid base64: %w", err)
	}
	return b, nil
}

// UTF8ToBytes converts a string to its UTF-8 byte representation.
func UTF8ToBytes(s string) []byte {
	return []byte(s)
}

// BytesToUTF8 converts bytes to a string, assuming valid UTF-8. Go
// strings do not require valid UTF-8, so this never fails; callers
// that need validation should use [IsValidUTF8].
func BytesToUTF8(b []byte) string {
	return string(b)
}

// IsValidUTF8 reports whether b is well-formed UTF-8.
func IsValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
