package crevion

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEllipsis(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"مرحبا بالعالم", 8, "مرحبا..."},
		{"hello", 2, "he"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ellipsis(tc.s, tc.n))
	}
}

func TestChunkItems(t *testing.T) {
	t.Parallel()
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkItems(2, 1, 2, 3, 4, 5))
	assert.Nil(t, chunkItems[int](2))
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	first, err := HashPassword("password")
	require.NoError(t, err)
	second, err := HashPassword("password")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "$argon2id$v=19$"))
	// salted
	assert.NotEqual(t, first, second)
}

func TestConfigLogValue_Redacted(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret-token"
	cfg.AI.Groq.APIKey = "gsk_secret"

	var b strings.Builder
	logger := slog.New(slog.NewTextHandler(&b, nil))
	logger.Info("config", "config", cfg)

	out := b.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.NotContains(t, out, "gsk_secret")
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, DefaultGroqModel)
}
