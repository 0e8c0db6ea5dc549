package models

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackingCode(t *testing.T) {
	// 7 random bytes encode to 12 unpadded base32 characters.
	shape := regexp.MustCompile(`^PKG-[A-Z2-7]{12}$`)

	t.Run("matches the tracking shape", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			code, err := NewTrackingCode("PKG")
			require.NoError(t, err)
			assert.Regexp(t, shape, code)
		}
	})

	t.Run("carries the caller's prefix", func(t *testing.T) {
		code, err := NewTrackingCode("SHP")
		require.NoError(t, err)
		assert.Regexp(t, `^SHP-[A-Z2-7]{12}$`, code)
	})
}
