package codes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/release/codes"
)

func TestGenerate(t *testing.T) {
	t.Run("produces six digits", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			code, err := codes.Generate()
			require.NoError(t, err)
			require.Len(t, code, codes.Length)
			for _, r := range code {
				assert.True(t, r >= '0' && r <= '9', "code %q contains non-digit", code)
			}
		}
	})

	t.Run("zero-pads small values", func(t *testing.T) {
		// Statistical: over enough draws at least one code keeps a
		// leading zero, proving padding rather than trimming.
		seen := false
		for i := 0; i < 2000 && !seen; i++ {
			code, err := codes.Generate()
			require.NoError(t, err)
			seen = code[0] == '0'
		}
		assert.True(t, seen)
	})
}

func TestHashAndVerify(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		hash, err := codes.Hash("042931")
		require.NoError(t, err)
		assert.NotContains(t, hash, "042931")

		assert.True(t, codes.Verify(hash, "042931"))
		assert.False(t, codes.Verify(hash, "042932"))
		assert.False(t, codes.Verify(hash, ""))
	})

	t.Run("salting makes hashes differ", func(t *testing.T) {
		h1, err := codes.Hash("555555")
		require.NoError(t, err)
		h2, err := codes.Hash("555555")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

func TestFingerprint(t *testing.T) {
	pepper := []byte("test-pepper")

	t.Run("deterministic under one pepper", func(t *testing.T) {
		assert.Equal(t, codes.Fingerprint(pepper, "123456"), codes.Fingerprint(pepper, "123456"))
	})

	t.Run("differs across codes and peppers", func(t *testing.T) {
		assert.NotEqual(t, codes.Fingerprint(pepper, "123456"), codes.Fingerprint(pepper, "123457"))
		assert.NotEqual(t, codes.Fingerprint(pepper, "123456"), codes.Fingerprint([]byte("other"), "123456"))
	})
}
