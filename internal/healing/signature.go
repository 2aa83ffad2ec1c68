// File: internal/healing/signature.go
package healing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signature derives the history-store key from the failed selector, the
// action context and the element description. Inputs are normalized so
// cosmetic whitespace or casing differences do not split cache lines.
func Signature(originalSelector, actionContext, elementDescription string) string {
	h := sha256.New()
	h.Write([]byte(normalizeKey(originalSelector)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeKey(actionContext)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeKey(elementDescription)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
