// File: internal/healing/signature_test.go
package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	base := Signature("#login-btn", "click", "Sign in")
	assert.Len(t, base, 32)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base, Signature("#login-btn", "click", "Sign in"))
	})

	t.Run("whitespace and case normalized", func(t *testing.T) {
		assert.Equal(t, base, Signature(" #login-btn ", "Click", "sign   IN"))
	})

	t.Run("components are delimited", func(t *testing.T) {
		// Moving characters across the component boundary must change the key.
		assert.NotEqual(t, Signature("ab", "c", ""), Signature("a", "bc", ""))
	})

	t.Run("all components contribute", func(t *testing.T) {
		assert.NotEqual(t, base, Signature("#login-btn", "type", "Sign in"))
		assert.NotEqual(t, base, Signature("#login-btn", "click", "Sign out"))
		assert.NotEqual(t, base, Signature("#other", "click", "Sign in"))
	})
}
