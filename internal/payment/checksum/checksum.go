// Package checksum holds the digest primitives the payment providers sign
// their messages with. Each adapter decides field order and separator.
package checksum

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// MD5 returns the lowercase hex MD5 of fields joined with sep.
func MD5(sep string, fields ...string) string {
	sum := md5.Sum([]byte(strings.Join(fields, sep)))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the lowercase hex HMAC-SHA256 of fields joined with sep.
func HMACSHA256(secret, sep string, fields ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(fields, sep)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SHA256 is used for callback fingerprints, not for authentication.
func SHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests ignoring case.
func Equal(expected, received string) bool {
	if expected == "" || received == "" {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(expected))
	b := strings.ToLower(strings.TrimSpace(received))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func VerifyMD5(received, sep string, fields ...string) bool {
	return Equal(MD5(sep, fields...), received)
}

func VerifyHMACSHA256(received, secret, sep string, fields ...string) bool {
	return Equal(HMACSHA256(secret, sep, fields...), received)
}
