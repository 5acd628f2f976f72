// Package objectid provides unique object key generation for storage backends
// that do not assign their own ids.
package objectid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate creates a new unique object id.
// Format: <timestamp>-<random>
// Example: 1701432000-a1b2c3d4e5f60718
func Generate() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 8)
	if _, err := rand.Read(random); err != nil {
		// Fall back to nanosecond precision if crypto/rand fails
		return fmt.Sprintf("%d-%x", timestamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(random))
}
