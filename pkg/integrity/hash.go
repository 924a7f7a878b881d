// Package integrity computes and checks the digest stamped on every ledger
// entry. The digest binds the contract id, declared type, canonical payload,
// decision and timestamp, so any later edit to a stored row is detectable.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/aspace-os/contractguard/pkg/canonicalize"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

// Separator joins the hashed fields. It is the ASCII unit separator, which
// JCS output, contract ids and enum values never contain unescaped.
const Separator = "\x1f"

// HexLen is the length of a digest produced by Hash.
const HexLen = sha256.Size * 2

// Hash returns the SHA-256 hex digest over id|type|payload|status|timestamp.
func Hash(contractID, contractType string, canonicalPayload []byte, status string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		contractID,
		contractType,
		string(canonicalPayload),
		status,
		FormatTimestamp(ts),
	}, Separator)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the digest and compares it in constant time.
func Verify(contractID, contractType string, canonicalPayload []byte, status string, ts time.Time, hash string) bool {
	want := Hash(contractID, contractType, canonicalPayload, status, ts)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(hash))) == 1
}

// HashRaw canonicalizes a raw JSON payload before hashing it.
func HashRaw(contractID, contractType string, rawPayload []byte, status string, ts time.Time) (string, error) {
	canon, err := canonicalize.Bytes(rawPayload)
	if err != nil {
		return "", err
	}
	return Hash(contractID, contractType, canon, status, ts), nil
}

// VerifyRaw is the audit counterpart of HashRaw. A payload that no longer
// parses as JSON never verifies.
func VerifyRaw(contractID, contractType string, rawPayload []byte, status string, ts time.Time, hash string) bool {
	canon, err := canonicalize.Bytes(rawPayload)
	if err != nil {
		return false
	}
	return Verify(contractID, contractType, canon, status, ts, hash)
}

// FormatTimestamp renders ts the way it is hashed and stored: UTC with
// microsecond precision, which every supported store round-trips exactly.
func FormatTimestamp(ts time.Time) string {
	return ledger.NormalizeTime(ts).Format(ledger.TimeLayout)
}
