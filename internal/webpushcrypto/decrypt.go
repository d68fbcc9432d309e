package webpushcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESGCMDecrypt decrypts ciphertextWithTag (plaintext || 16-byte GCM
// tag) using key and iv, with empty additional data, per spec §4.3.
func AESGCMDecrypt(ciphertextWithTag, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: new GCM: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("webpushcrypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, ciphertextWithTag, nil)
	if err != nil {
		return nil, fmt.Errorf("webpushcrypto: gcm authentication failed: %w", err)
	}
	return plaintext, nil
}

const (
	paddingDelimiterLast = 0x02
	paddingDelimiterMore = 0x01
)

// RemovePadding strips the RFC 8188 record padding: trailing zero
// bytes followed by a delimiter (0x02 for the last/only record, 0x01
// otherwise), scanning from the end per spec §4.3. Fails if the
// delimiter does not match, or if the decrypted block is all zeros.
func RemovePadding(decrypted []byte, isLastRecord bool) ([]byte, error) {
	want := byte(paddingDelimiterMore)
	if isLastRecord {
		want = paddingDelimiterLast
	}

	i := len(decrypted) - 1
	for i >= 0 && decrypted[i] == 0x00 {
		i--
	}
	if i < 0 {
		return nil, fmt.Errorf("webpushcrypto: decrypted record is all zeros")
	}
	if decrypted[i] != want {
		return nil, fmt.Errorf("webpushcrypto: padding delimiter = 0x%02x, want 0x%02x", decrypted[i], want)
	}
	return decrypted[:i], nil
}
