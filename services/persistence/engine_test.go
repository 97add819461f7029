package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
	"gohan/genotypes/repositories/memory"
	"gohan/genotypes/services/alleles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contendedStore reports a version conflict on every update of the listed variants.
type contendedStore struct {
	*memory.Store
	hot     map[string]bool
	updates sync.Map
}

func (s *contendedStore) UpdateVariant(ctx context.Context, v *indexes.Variant, expectedVersion int64) error {
	if s.hot[v.Id] {
		n, _ := s.updates.LoadOrStore(v.Id, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		return repositories.ErrVersionConflict
	}
	return s.Store.UpdateVariant(ctx, v, expectedVersion)
}

func item(id string, knownAlleles []string, genotypes map[int]string) Item {
	samples := map[int]indexes.Genotype{}
	for sampleId, code := range genotypes {
		samples[sampleId] = indexes.Genotype{Code: code}
	}
	return Item{
		Variant: &indexes.Variant{Id: id, Type: variantType.SNP, KnownAlleles: knownAlleles},
		RunData: &indexes.VariantRunData{ProjectId: "p1", RunName: "r1", VariantId: id, Samples: samples},
	}
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, 1000, ChunkSize(100000, 100))
	assert.Equal(t, 1, ChunkSize(10, 100))
	assert.Equal(t, 50, ChunkSize(50, 0))
}

func TestEngineSafeMode(t *testing.T) {
	ctx := context.Background()

	t.Run("should record a contended variant without blocking the others", func(t *testing.T) {
		store := &contendedStore{Store: memory.NewStore(), hot: map[string]bool{"hot": true}}
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "hot", KnownAlleles: []string{"A"}}))
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "cold", KnownAlleles: []string{"C"}}))

		engine := NewEngine(store, Options{RecordBudget: 100, SampleCount: 2})
		require.NoError(t, engine.Submit(ctx, item("hot", []string{"A", "G"}, map[int]string{1: "0/1"})))
		require.NoError(t, engine.Submit(ctx, item("cold", []string{"C", "T"}, map[int]string{1: "1/1"})))

		summary, err := engine.Close(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Unsaved, 1)
		assert.Equal(t, "hot", summary.Unsaved[0].Id)
		assert.Contains(t, summary.Unsaved[0].Reason, "after 3 attempts")
		n, _ := store.updates.Load("hot")
		assert.Equal(t, int32(3), n.(*atomic.Int32).Load())

		cold, err := store.GetVariant(ctx, "cold")
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "T"}, cold.KnownAlleles)
		assert.Equal(t, int64(2), cold.Version)

		_, err = store.GetVariantRunData(ctx, "p1", "r1", "hot")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		run, err := store.GetVariantRunData(ctx, "p1", "r1", "cold")
		require.NoError(t, err)
		assert.Equal(t, "1/1", run.Samples[1].Code)
	})

	t.Run("should create missing variants and count updates", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "m2", Type: variantType.SNP, KnownAlleles: []string{"A", "G"}}))

		engine := NewEngine(store, Options{RecordBudget: 1, SampleCount: 1})
		require.NoError(t, engine.Submit(ctx, item("m1", []string{"A"}, map[int]string{1: "0/0"})))
		require.NoError(t, engine.Submit(ctx, item("m2", []string{"A", "G"}, map[int]string{1: "0/1"})))
		require.NoError(t, engine.Submit(ctx, item("m3", []string{"T"}, map[int]string{1: "0/0"})))

		summary, err := engine.Close(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Submitted)
		assert.Equal(t, int64(2), summary.Created)
		assert.Equal(t, int64(0), summary.Updated)
		assert.Equal(t, int64(3), summary.RunRecords)
		assert.Equal(t, 3, summary.Chunks)
		assert.Empty(t, summary.Unsaved)

		m2, err := store.GetVariant(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), m2.Version)
	})

	t.Run("should re-index genotypes when the stored allele order diverged", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "v1", KnownAlleles: []string{"A", "G"}}))

		it := item("v1", []string{"A", "T"}, map[int]string{7: "1/1"})
		it.RunData.Samples[7] = indexes.Genotype{
			Code: "1/1",
			Annotations: &indexes.GenotypeAnnotations{
				AlleleDepths:     []int{2, 8},
				PhredLikelihoods: []int{100, 10, 0},
			},
		}

		engine := NewEngine(store, Options{RecordBudget: 10, SampleCount: 1})
		require.NoError(t, engine.Submit(ctx, it))
		summary, err := engine.Close(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Updated)
		assert.Equal(t, int64(1), summary.Reindexed)

		v1, err := store.GetVariant(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "G", "T"}, v1.KnownAlleles)

		run, err := store.GetVariantRunData(ctx, "p1", "r1", "v1")
		require.NoError(t, err)
		g := run.Samples[7]
		assert.Equal(t, "2/2", g.Code)
		assert.Equal(t, []int{2, 0, 8}, g.Annotations.AlleleDepths)
		sentinel := alleles.MissingLikelihood
		assert.Equal(t, []int{100, sentinel, sentinel, 10, sentinel, 0}, g.Annotations.PhredLikelihoods)
		assert.Equal(t, []string{"A", "G", "T"}, run.KnownAlleles)
	})

	t.Run("should refuse a variant whose position moved", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{
			Id:                "v1",
			KnownAlleles:      []string{"A"},
			ReferencePosition: &indexes.ReferencePosition{Sequence: "chr1", Start: 10},
		}))

		it := item("v1", []string{"A"}, map[int]string{1: "0/0"})
		it.Variant.ReferencePosition = &indexes.ReferencePosition{Sequence: "chr1", Start: 11}

		engine := NewEngine(store, Options{RecordBudget: 10, SampleCount: 1})
		require.NoError(t, engine.Submit(ctx, it))
		summary, err := engine.Close(ctx)
		require.NoError(t, err)
		require.Len(t, summary.Unsaved, 1)
		assert.Contains(t, summary.Unsaved[0].Reason, "stored at chr1:10")
	})
}

func TestEngineBulkMode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var chunks atomic.Int32
	engine := NewEngine(store, Options{
		RecordBudget: 4,
		SampleCount:  2,
		BulkMode:     true,
		OnChunk:      func(ChunkStats) { chunks.Add(1) },
	})
	require.Equal(t, 2, engine.ChunkSize())

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Submit(ctx, item(fmt.Sprintf("m%d", i), []string{"A", "G"}, map[int]string{1: "0/1", 2: "1/1"})))
	}
	summary, err := engine.Close(ctx)
	require.NoError(t, err)

	assert.True(t, summary.BulkMode)
	assert.Equal(t, 3, summary.Chunks)
	assert.Equal(t, int32(3), chunks.Load())
	assert.Equal(t, int64(5), summary.Created)
	assert.Equal(t, int64(5), summary.RunRecords)

	count, err := store.CountVariants(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestMergeVariant(t *testing.T) {
	stored := &indexes.Variant{Id: "v", KnownAlleles: []string{"A", "G"}, Synonyms: map[string][]string{"a": {"x"}}}

	merged, changed, err := MergeVariant(stored, &indexes.Variant{Id: "v", Type: variantType.SNP, KnownAlleles: []string{"G", "C"}, Synonyms: map[string][]string{"a": {"x", "y"}}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"A", "G", "C"}, merged.KnownAlleles)
	assert.Equal(t, variantType.SNP, merged.Type)
	assert.Equal(t, []string{"x", "y"}, merged.Synonyms["a"])
	assert.Equal(t, []string{"A", "G"}, stored.KnownAlleles)

	_, changed, err = MergeVariant(merged, &indexes.Variant{Id: "v", KnownAlleles: []string{"C"}})
	require.NoError(t, err)
	assert.False(t, changed)
}
