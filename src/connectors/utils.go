package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/username/wealthos/backend/src/models"
)

// SanitizeAPIKey masks a credential for logging, keeping only the first and
// last few characters visible.
func SanitizeAPIKey(key string, visibleChars int) string {
	if key == "" {
		return "<not set>"
	}
	if len(key) <= visibleChars*2 {
		return strings.Repeat("*", len(key))
	}
	return key[:visibleChars] + "..." + key[len(key)-visibleChars:]
}

// GenerateSourceID builds the deduplication key for a transaction. When the
// provider supplies a stable native id it is used directly; otherwise the key
// is a content hash of the identifying fields, stable across re-imports of
// the same payload.
func GenerateSourceID(source, transactionID string, date time.Time, symbol string, txType models.TransactionType, amount float64) string {
	if transactionID != "" {
		return source + "_" + transactionID
	}

	components := []string{source}
	if !date.IsZero() {
		components = append(components, date.UTC().Format(time.RFC3339))
	}
	if symbol != "" {
		components = append(components, symbol)
	}
	if txType != "" {
		components = append(components, string(txType))
	}
	components = append(components, fmt.Sprintf("%.6f", amount))

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return source + "_" + hex.EncodeToString(sum[:8])
}
