package webpushcrypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	webPushInfoPrefix = "WebPush: info\x00"
	cekInfo           = "Content-Encoding: aes128gcm\x00"
	nonceInfo         = "Content-Encoding: nonce\x00"
)

// RecordHeader is the parsed fixed header of an RFC 8188 aes128gcm
// record: 16-byte salt, 4-byte big-endian record size, 1-byte key id
// length, and the sender's uncompressed P-256 public key.
type RecordHeader struct {
	Salt       []byte
	RecordSize uint32
	SenderKey  []byte // 65-byte uncompressed P-256 point
	Ciphertext []byte // includes the trailing 16-byte GCM tag
}

// ParseRecordHeader parses the aes128gcm header spec §4.3 step 1
// describes. It fails if idlen is not 65 or any field is short.
func ParseRecordHeader(record []byte) (*RecordHeader, error) {
	const minFixed = 16 + 4 + 1 // salt + rs + idlen
	if len(record) < minFixed {
		return nil, fmt.Errorf("webpushcrypto: record too short for header: %d bytes", len(record))
	}

	salt := record[0:16]
	recordSize := binary.BigEndian.Uint32(record[16:20])
	idlen := int(record[20])
	if idlen != uncompressedP256Len {
		return nil, fmt.Errorf("webpushcrypto: unexpected keyid length %d, want %d", idlen, uncompressedP256Len)
	}

	end := 21 + idlen
	if len(record) < end {
		return nil, fmt.Errorf("webpushcrypto: record too short for sender key: need %d bytes, have %d", end, len(record))
	}

	senderKey := record[21:end]
	ciphertext := record[end:]

	return &RecordHeader{
		Salt:       append([]byte(nil), salt...),
		RecordSize: recordSize,
		SenderKey:  append([]byte(nil), senderKey...),
		Ciphertext: append([]byte(nil), ciphertext...),
	}, nil
}

// DecryptPrep holds the derived key material and extracted ciphertext
// ready for [AESGCMDecrypt].
type DecryptPrep struct {
	CEK        []byte // 16-byte AES-128-GCM content encryption key
	Nonce      []byte // 12-byte GCM nonce
	Ciphertext []byte
}

// WebPushDecryptPrep implements the RFC 8291 derivation of spec §4.3:
// parses the record header, computes the ECDH shared secret between
// the local private key and the sender's public key, and derives IKM,
// CEK, and nonce via the two HKDF-SHA256 stages.
func WebPushDecryptPrep(local *KeyPair, authSecret []byte, record []byte) (*DecryptPrep, error) {
	header, err := ParseRecordHeader(record)
	if err != nil {
		return nil, err
	}

	senderPub, err := ParseUncompressedPublicKey(header.SenderKey)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: sender public key: %w", err)
	}

	shared, err := local.Private.ECDH(senderPub)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: ECDH: %w", err)
	}

	recipientPub := local.PublicKeyBytes()
	ikmInfo := buildWebPushInfo(recipientPub, header.SenderKey)
	ikm := hkdfExpand(authSecret, shared, ikmInfo, 32)

	cek := hkdfExpand(header.Salt, ikm, []byte(cekInfo), 16)
	nonce := hkdfExpand(header.Salt, ikm, []byte(nonceInfo), 12)

	return &DecryptPrep{CEK: cek, Nonce: nonce, Ciphertext: header.Ciphertext}, nil
}

// buildWebPushInfo builds the RFC 8291 "info" parameter:
// "WebPush: info\0" || recipient_pub || sender_pub. Unlike the
// application-server-to-push-service HKDF info string (which length-
// prefixes each key), the client decryption info string concatenates
// the raw 65-byte keys directly — see RFC 8291 §3.4.
func buildWebPushInfo(recipientPub, senderPub []byte) []byte {
	info := make([]byte, 0, len(webPushInfoPrefix)+len(recipientPub)+len(senderPub))
	info = append(info, webPushInfoPrefix...)
	info = append(info, recipientPub...)
	info = append(info, senderPub...)
	return info
}

// hkdfExpand runs HKDF-Extract(salt, secret) followed by
// HKDF-Expand(_, info, length) in one call, matching the two-line
// derivation spec §4.3 spells out for IKM, CEK, and nonce.
func hkdfExpand(salt, secret, info []byte, length int) []byte {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		// hkdf.New with sha256 and length <= 255*32 bytes cannot fail
		// here; a failure means a caller changed the hash or length
		// bound, which is a programming error worth surfacing loudly.
		panic(fmt.Sprintf("webpushcrypto: hkdf expand: %v", err))
	}
	return out
}
