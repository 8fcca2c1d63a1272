package cache_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-worker/internal/cache"
)

var errLoad = errors.New("weights missing")

func TestGetOrCreate_LoadsOnce(t *testing.T) {
	t.Parallel()

	models := cache.New[string]()
	calls := 0
	factory := func() (string, error) {
		calls++

		return "ctx", nil
	}

	first, err := models.GetOrCreate("openai/whisper-tiny", factory)
	require.NoError(t, err)
	second, err := models.GetOrCreate("openai/whisper-tiny", factory)
	require.NoError(t, err)

	assert.Equal(t, "ctx", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, models.Len())
}

func TestGetOrCreate_FailureIsNotCached(t *testing.T) {
	t.Parallel()

	models := cache.New[int]()

	_, err := models.GetOrCreate("broken", func() (int, error) { return 0, errLoad })
	require.Error(t, err)
	require.ErrorIs(t, err, errLoad)
	assert.False(t, models.Contains("broken"))
	assert.Empty(t, models.Keys())

	value, err := models.GetOrCreate("broken", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.True(t, models.Contains("broken"))
}

func TestKeys_InsertionOrder(t *testing.T) {
	t.Parallel()

	models := cache.New[int]()
	assert.NotNil(t, models.Keys())
	assert.Empty(t, models.Keys())

	for i, key := range []string{"b", "a", "c"} {
		_, err := models.GetOrCreate(key, func() (int, error) { return i, nil })
		require.NoError(t, err)
	}

	_, err := models.GetOrCreate("a", func() (int, error) { return 99, nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, models.Keys())

	value, ok := models.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)
}

func TestKeys_ReturnsCopy(t *testing.T) {
	t.Parallel()

	models := cache.New[int]()
	_, err := models.GetOrCreate("a", func() (int, error) { return 1, nil })
	require.NoError(t, err)

	keys := models.Keys()
	keys[0] = "mutated"

	assert.Equal(t, []string{"a"}, models.Keys())
}
