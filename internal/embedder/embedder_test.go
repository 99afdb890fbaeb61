package embedder

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	a := ComputeHash("m", "hello world")
	assert.Equal(t, a, ComputeHash("m", "hello world"))
	assert.NotEqual(t, a, ComputeHash("other", "hello world"), "model is part of the key")
	assert.NotEqual(t, a, ComputeHash("m", "hello world!"))
	assert.NotEqual(t, ComputeHash("ab", "c"), ComputeHash("a", "bc"))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"no texts", nil, true},
		{"empty text inside", []string{"a", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		c := NewCache(4)
		c.Set("k", &Embedding{Vector: []float32{1, 2}, Model: "m"})

		got, ok := c.Get("k")
		require.True(t, ok)
		got.Vector[0] = 99

		again, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewCache(2)
		c.Set("a", &Embedding{})
		c.Set("b", &Embedding{})
		_, _ = c.Get("a")
		c.Set("c", &Embedding{})

		_, okA := c.Get("a")
		_, okB := c.Get("b")
		_, okC := c.Get("c")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.True(t, okC)
	})

	t.Run("nil cache is a no-op", func(t *testing.T) {
		var c *Cache
		c.Set("a", &Embedding{})
		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("non-positive size uses default", func(t *testing.T) {
		c := NewCache(0)
		for i := 0; i < 3; i++ {
			c.Set(strconv.Itoa(i), &Embedding{})
		}
		_, ok := c.Get("0")
		assert.True(t, ok)
	})
}

func TestNormalizeVector(t *testing.T) {
	got := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: 1, MaxDelay: 2, Multiplier: 2, Retryable: retryable}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &apiError{status: 503, msg: "busy"}
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, &apiError{status: 401, msg: "bad key"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, &apiError{status: 500}
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 250*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 250*time.Millisecond, cfg.delay(10))
}
