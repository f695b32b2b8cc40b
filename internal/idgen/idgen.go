// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ScanID generates a scan identifier: "scan_" + unix millis + "_" +
// 8 random hex chars. Uniqueness relies on the random suffix; no
// collision check is performed.
func ScanID(now time.Time) string {
	return fmt.Sprintf("scan_%d_%s", now.UnixMilli(), Hex(4))
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
