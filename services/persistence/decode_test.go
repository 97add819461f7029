package persistence

import (
	"context"
	"testing"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories/memory"
	"gohan/genotypes/services/alleles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGenotype(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "v1", KnownAlleles: []string{"A", "G", "T"}}))

	t.Run("should use the cache when it covers the code", func(t *testing.T) {
		cache := []string{"A", "G"}
		decoded, err := DecodeGenotype(ctx, store, "v1", "0/1", &cache)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "G"}, decoded)
		assert.Equal(t, []string{"A", "G"}, cache)
	})

	t.Run("should refresh a stale cache once", func(t *testing.T) {
		cache := []string{"A", "G"}
		decoded, err := DecodeGenotype(ctx, store, "v1", "1|2", &cache)
		require.NoError(t, err)
		assert.Equal(t, []string{"G", "T"}, decoded)
		assert.Equal(t, []string{"A", "G", "T"}, cache)
	})

	t.Run("should fail when the store is stale too", func(t *testing.T) {
		cache := []string{"A"}
		_, err := DecodeGenotype(ctx, store, "v1", "0/5", &cache)
		var stale *alleles.IndexOutOfRangeError
		assert.ErrorAs(t, err, &stale)
	})
}
