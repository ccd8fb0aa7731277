package cloud

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Nonce layout constants. The derivation must be bit-exact for the
// vendor API to accept a request.
const (
	// nonceRandomBytes is the random prefix length.
	nonceRandomBytes = 8

	// nonceTimeBytes is the minute-counter suffix length.
	nonceTimeBytes = 4

	// nonceMinuteDivisor converts Unix seconds to the minute counter.
	nonceMinuteDivisor = 60
)

// generateNonce builds a request nonce: 8 random bytes followed by the
// current Unix time in minutes as a 4-byte big-endian counter, base64
// encoded.
func generateNonce(now time.Time) (string, error) {
	buf := make([]byte, nonceRandomBytes+nonceTimeBytes)
	if _, err := rand.Read(buf[:nonceRandomBytes]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	minutes := uint32(now.Unix() / nonceMinuteDivisor) //nolint:gosec // Wraps in 8000 years
	binary.BigEndian.PutUint32(buf[nonceRandomBytes:], minutes)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// signedNonce derives the per-request signing key:
// base64(SHA256(base64decode(ssecurity) || base64decode(nonce))).
func signedNonce(ssecurity, nonce string) (string, error) {
	sec, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", fmt.Errorf("%w: decoding ssecurity: %w", ErrAuthInvalid, err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("decoding nonce: %w", err)
	}

	sum := sha256.Sum256(append(sec, n...))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// signRequest computes the request signature:
// base64(HMAC-SHA256(key = base64decode(signedNonce),
// message = join("&", path, signedNonce, nonce, "data="+payload))).
func signRequest(path, signed, nonce, payload string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		return "", fmt.Errorf("decoding signed nonce: %w", err)
	}

	message := strings.Join([]string{path, signed, nonce, "data=" + payload}, "&")
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
