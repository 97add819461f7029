package synonyms

import (
	"bytes"
	"context"
	"errors"
	"testing"

	c "gohan/genotypes/models/constants"
	"gohan/genotypes/services/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource []Call

func (s sliceSource) EachCall(ctx context.Context, fn func(Call) error) error {
	for _, call := range s {
		if err := fn(call); err != nil {
			return err
		}
	}
	return nil
}

type mapResolver map[string]string

func (m mapResolver) Resolve(_ c.VariantType, _ string, _ int64, candidateIds ...string) (string, error) {
	for _, id := range candidateIds {
		if canonical, ok := m[id]; ok {
			return canonical, nil
		}
	}
	return "", identity.ErrNotFound
}

func TestCheck(t *testing.T) {
	resolver := mapResolver{"A": "v1", "B": "v1", "C": "v2"}

	t.Run("should exclude individuals whose synonyms disagree", func(t *testing.T) {
		source := sliceSource{
			{MarkerId: "A", IndividualId: "S1", Genotype: "0/1"},
			{MarkerId: "B", IndividualId: "S1", Genotype: "0/0"},
			{MarkerId: "A", IndividualId: "S2", Genotype: "0/1"},
			{MarkerId: "B", IndividualId: "S2", Genotype: "0/1"},
		}
		var report bytes.Buffer

		exclusions, err := NewChecker(resolver, nil).Check(context.Background(), source, &report)
		require.NoError(t, err)

		assert.True(t, exclusions.Excludes("v1", "S1"))
		assert.False(t, exclusions.Excludes("v1", "S2"))
		assert.Equal(t, 1, exclusions.Count())
		assert.Equal(t, []string{"S1"}, exclusions.Individuals("v1"))
		assert.Equal(t, "v1\tS1\tA=0/1;B=0/0\n", report.String())
	})

	t.Run("should treat allele order and case as equivalent", func(t *testing.T) {
		source := sliceSource{
			{MarkerId: "A", IndividualId: "S1", Genotype: "a/g"},
			{MarkerId: "B", IndividualId: "S1", Genotype: "G/A"},
			{MarkerId: "A", IndividualId: "S2", Genotype: "AG"},
			{MarkerId: "B", IndividualId: "S2", Genotype: "G|A"},
		}
		exclusions, err := NewChecker(resolver, nil).Check(context.Background(), source, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, exclusions.Count())
	})

	t.Run("should ignore missing and unresolvable calls", func(t *testing.T) {
		source := sliceSource{
			{MarkerId: "A", IndividualId: "S1", Genotype: "A/A"},
			{MarkerId: "B", IndividualId: "S1", Genotype: "./."},
			{MarkerId: "Z", IndividualId: "S1", Genotype: "C/C"},
			{MarkerId: "C", IndividualId: "S1", Genotype: "T/T"},
		}
		exclusions, err := NewChecker(resolver, nil).Check(context.Background(), source, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, exclusions.Count())
	})

	t.Run("should surface source failures", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := NewChecker(resolver, nil).Check(context.Background(), failingSource{boom}, nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should be nil-safe", func(t *testing.T) {
		var exclusions *Exclusions
		assert.False(t, exclusions.Excludes("v1", "S1"))
		assert.Zero(t, exclusions.Count())
	})
}

type failingSource struct{ err error }

func (f failingSource) EachCall(ctx context.Context, fn func(Call) error) error { return f.err }

func TestNormalizeGenotype(t *testing.T) {
	for raw, expected := range map[string]string{
		"A/G": "A/G",
		"g|a": "A/G",
		"TC":  "C/T",
		"T":   "T",
		"0/1": "0/1",
		"1/0": "0/1",
		"0/0": "0/0",
	} {
		got, ok := NormalizeGenotype(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, expected, got, raw)
	}
	for _, raw := range []string{"", "-", "./.", ".|.", "0/."} {
		_, ok := NormalizeGenotype(raw)
		assert.False(t, ok, raw)
	}
}
