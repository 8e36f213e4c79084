// Package signature computes and verifies HMAC-SHA256 integrity tags over
// webhook payloads. All functions are pure: they operate on the exact bytes
// supplied, never on a re-serialization.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultTolerance bounds the replay window for timestamped signatures.
const DefaultTolerance = 5 * time.Minute

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
// It never short-circuits on the first differing byte.
func Verify(payload, secret []byte, signatureHex string) bool {
	expected, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return subtle.ConstantTimeCompare(h.Sum(nil), expected) == 1
}

// SignAt binds a timestamp into the signed message for bridge events.
// The signed content is "<unix_ts>.<payload>".
func SignAt(payload, secret []byte, ts time.Time) string {
	return Sign(timestampedContent(payload, ts), secret)
}

// VerifyAt verifies a timestamp-bound signature. Signatures whose timestamp
// is more than tolerance away from now are rejected regardless of whether
// the HMAC itself matches, bounding the replay-attack window. A tolerance
// of zero or less falls back to DefaultTolerance.
func VerifyAt(payload, secret []byte, signatureHex string, ts, now time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	// Skew check runs before the HMAC comparison on purpose: an expired
	// signature must not be accepted even when cryptographically valid.
	if skew > tolerance {
		return false
	}
	return Verify(timestampedContent(payload, ts), secret, signatureHex)
}

func timestampedContent(payload []byte, ts time.Time) []byte {
	return fmt.Appendf(nil, "%s.%s", strconv.FormatInt(ts.Unix(), 10), payload)
}
