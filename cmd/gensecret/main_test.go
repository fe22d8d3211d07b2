package main

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_generate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		key, err := generate(32)

		require.NoError(t, err)
		raw, err := hex.DecodeString(key)
		require.NoError(t, err)
		require.Len(t, raw, 32)

		other, err := generate(32)
		require.NoError(t, err)
		require.NotEqual(t, key, other)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := generate(16)

		require.Error(t, err)
	})
}
