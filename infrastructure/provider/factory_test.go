package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tablevec/tablevec/domain/provider"
)

func TestFactoryNew(t *testing.T) {
	factory := Factory{
		OpenAI: OpenAIConfig{APIKey: "openai-key"},
		Google: GoogleConfig{APIKey: "google-key"},
	}

	t.Run("openai", func(t *testing.T) {
		e, err := factory.New(NameOpenAI, "")
		require.NoError(t, err)
		assert.IsType(t, &OpenAIProvider{}, e)
	})

	t.Run("openai with model override", func(t *testing.T) {
		e, err := factory.New(NameOpenAI, "text-embedding-3-large")
		require.NoError(t, err)
		assert.Equal(t, 3072, e.Dimension())
	})

	t.Run("google", func(t *testing.T) {
		e, err := factory.New(NameGoogle, "")
		require.NoError(t, err)
		assert.IsType(t, &GoogleProvider{}, e)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := factory.New("bedrock", "")
		var cfgErr *domain.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
	})

	t.Run("missing credentials fail fast", func(t *testing.T) {
		_, err := Factory{}.New(NameOpenAI, "")
		var cfgErr *domain.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
	})

	t.Run("local without model", func(t *testing.T) {
		f := Factory{ModelCacheDir: t.TempDir()}
		_, err := f.New(NameLocal, "")
		var cfgErr *domain.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
	})
}

type countingFactory struct {
	calls int
	inner Factory
}

func (f *countingFactory) New(name, model string) (domain.Embedder, error) {
	f.calls++
	return f.inner.New(name, model)
}

func TestCacheReusesEmbedders(t *testing.T) {
	factory := &countingFactory{inner: Factory{
		OpenAI: OpenAIConfig{APIKey: "k"},
		Google: GoogleConfig{APIKey: "k"},
	}}
	cache := NewCache(factory)

	first, err := cache.Get(NameOpenAI, "text-embedding-3-small")
	require.NoError(t, err)
	second, err := cache.Get(NameOpenAI, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.calls)

	_, err = cache.Get(NameOpenAI, "text-embedding-3-large")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.calls, "different model is a separate entry")

	_, err = cache.Get(NameGoogle, "")
	require.NoError(t, err)
	assert.Equal(t, 3, factory.calls)

	require.NoError(t, cache.Close())
	_, err = cache.Get(NameOpenAI, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 4, factory.calls, "cache is rebuilt after Close")
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	factory := &countingFactory{inner: Factory{}}
	cache := NewCache(factory)

	_, err := cache.Get(NameOpenAI, "")
	require.Error(t, err)
	_, err = cache.Get(NameOpenAI, "")
	require.Error(t, err)
	assert.Equal(t, 2, factory.calls)
}
