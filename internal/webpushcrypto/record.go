package webpushcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/cobalt-oss/autopush-client/internal/codec"
)

// BuildRecord assembles a single aes128gcm record (RFC 8188) from a
// ciphertext-with-tag, mirroring the wire format [ParseRecordHeader]
// consumes: 16-byte salt, 4-byte big-endian rs, 1-byte idlen, the
// sender's 65-byte uncompressed public key, then the ciphertext.
//
// Test-only scaffolding: production code never constructs records, it
// only decrypts ones the push service sends.
func BuildRecord(salt []byte, recordSize uint32, senderPub []byte, ciphertextWithTag []byte) []byte {
	out := make([]byte, 0, 16+4+1+len(senderPub)+len(ciphertextWithTag))
	out = append(out, salt...)
	var rs [4]byte
	binary.BigEndian.PutUint32(rs[:], recordSize)
	out = append(out, rs[:]...)
	out = append(out, byte(len(senderPub)))
	out = append(out, senderPub...)
	out = append(out, ciphertextWithTag...)
	return out
}

// Encrypt performs the sender side of RFC 8291: given the recipient's
// public key and auth secret, a fresh sender keypair, and a salt, it
// derives CEK/nonce exactly as [WebPushDecryptPrep] does in reverse,
// pads the plaintext with the RFC 8188 single-record delimiter, and
// seals it with AES-128-GCM. Used only by tests to build fixtures for
// the decrypt path; no production sender exists in this module.
func Encrypt(recipientPub []byte, authSecret []byte, sender *KeyPair, salt []byte, plaintext []byte) ([]byte, error) {
	recipient, err := ParseUncompressedPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: recipient public key: %w", err)
	}

	shared, err := sender.Private.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: ECDH: %w", err)
	}

	senderPub := sender.PublicKeyBytes()
	ikmInfo := buildWebPushInfo(recipientPub, senderPub)
	ikm := hkdfExpand(authSecret, shared, ikmInfo, 32)

	cek := hkdfExpand(salt, ikm, []byte(cekInfo), 16)
	nonce := hkdfExpand(salt, ikm, []byte(nonceInfo), 12)

	padded := append(append([]byte{}, plaintext...), paddingDelimiterLast)

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: new GCM: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, padded, nil)

	recordSize := uint32(len(sealed)) + 16 + 4 + 1 + uint32(len(senderPub))
	return BuildRecord(salt, recordSize, senderPub, sealed), nil
}

// randomSalt returns a 16-byte RFC 8188 salt, for tests that don't
// care about a specific fixture salt.
func randomSalt() ([]byte, error) {
	return codec.RandomBytes(16)
}
