package webpushcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/cobalt-oss/autopush-client/internal/codec"
)

// VerifyVAPIDAuth validates a VAPID Authorization header of the form
// "vapid t=<jwt>, k=<b64url_pub>" per spec §4.3: the embedded key must
// match vapidPublicKey, and the JWT's signature over "header.body"
// must verify against it. Returns false on any shape violation; true
// only for a cryptographically valid signature.
//
// Disabled in production per spec §9 ("VAPID verification is presently
// disabled"): [subscription.Subscription] never calls this. It exists
// so the hook spec requires is implemented and testable, with
// activation left to deployment policy.
func VerifyVAPIDAuth(header, vapidPublicKey string) bool {
	tokens := strings.Fields(header)
	if len(tokens) != 3 || tokens[0] != "vapid" {
		return false
	}

	var jwt, key string
	for _, tok := range tokens[1:] {
		tok = strings.TrimSuffix(tok, ",")
		switch {
		case strings.HasPrefix(tok, "t="):
			jwt = strings.TrimPrefix(tok, "t=")
		case strings.HasPrefix(tok, "k="):
			key = strings.TrimPrefix(tok, "k=")
		}
	}
	if jwt == "" || key == "" {
		return false
	}
	if key != vapidPublicKey {
		return false
	}

	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return false
	}
	signingInput := parts[0] + "." + parts[1]

	sig, err := codec.Base64URLDecode(parts[2])
	if err != nil || len(sig) != 64 {
		return false
	}

	pubBytes, err := codec.Base64URLDecode(key)
	if err != nil {
		return false
	}
	if _, err := ParseUncompressedPublicKey(pubBytes); err != nil {
		return false
	}

	ecdsaPub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pubBytes[1:33]),
		Y:     new(big.Int).SetBytes(pubBytes[33:65]),
	}

	digest := sha256.Sum256([]byte(signingInput))
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	return ecdsa.Verify(ecdsaPub, digest[:], r, s)
}
