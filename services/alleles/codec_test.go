package alleles

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseAlleles = []string{"A", "C", "G", "T", "AT", "ATT"}

func TestEncode(t *testing.T) {
	t.Run("should sort indices independently of observed order", func(t *testing.T) {
		known := []string{"A", "T"}
		first, err := Encode([]string{"T", "A"}, &known, false)
		require.NoError(t, err)
		second, err := Encode([]string{"A", "T"}, &known, false)
		require.NoError(t, err)

		assert.Equal(t, "0/1", first)
		assert.Equal(t, "0/1", second)
		assert.Equal(t, []string{"A", "T"}, known)
	})

	t.Run("should append a new allele only once", func(t *testing.T) {
		known := []string{"A"}
		code, err := Encode([]string{"G", "G"}, &known, false)
		require.NoError(t, err)
		assert.Equal(t, "1/1", code)

		code, err = Encode([]string{"A", "G"}, &known, false)
		require.NoError(t, err)
		assert.Equal(t, "0/1", code)
		assert.Equal(t, []string{"A", "G"}, known)
	})

	t.Run("should normalize case and use the phased separator", func(t *testing.T) {
		var known []string
		code, err := Encode([]string{"c", "a"}, &known, true)
		require.NoError(t, err)
		assert.Equal(t, "0|1", code)
		assert.Equal(t, []string{"C", "A"}, known)
	})

	t.Run("should report missing data without growing the list", func(t *testing.T) {
		known := []string{"A"}
		for _, call := range [][]string{nil, {"."}, {"A", "-"}, {"N", "N"}} {
			_, err := Encode(call, &known, false)
			assert.ErrorIs(t, err, ErrMissingData)
		}
		assert.Equal(t, []string{"A"}, known)
	})

	t.Run("should reject unknown symbols", func(t *testing.T) {
		known := []string{"A"}
		_, err := Encode([]string{"A", "X"}, &known, false)

		var unknown *UnknownAlleleError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "X", unknown.Allele)
		assert.Equal(t, []string{"A"}, known)
	})

	t.Run("should accept symbolic alleles", func(t *testing.T) {
		known := []string{"A"}
		code, err := Encode([]string{"A", "<DEL>"}, &known, false)
		require.NoError(t, err)
		assert.Equal(t, "0/1", code)
	})
}

func TestDecode(t *testing.T) {
	known := []string{"A", "G", "T"}

	alleles, err := Decode("0/2", known)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "T"}, alleles)

	_, err = Decode("0/3", known)
	var outOfRange *IndexOutOfRangeError
	require.True(t, errors.As(err, &outOfRange))
	assert.Equal(t, 3, outOfRange.Index)

	_, err = Decode("", known)
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestTranslateCode(t *testing.T) {
	code, err := TranslateCode("0|2", []string{"A", "G", "T"}, []string{"T", "A", "G"})
	require.NoError(t, err)
	assert.Equal(t, "0|1", code)

	_, err = TranslateCode("0/1", []string{"A", "G"}, []string{"A"})
	assert.Error(t, err)
}

func TestGenotypeIndexing(t *testing.T) {
	t.Run("should follow the VCF diploid ordering", func(t *testing.T) {
		// 0/0 0/1 1/1 0/2 1/2 2/2
		expected := [][]int{{0, 0}, {0, 1}, {1, 1}, {0, 2}, {1, 2}, {2, 2}}
		for i, g := range expected {
			assert.Equal(t, i, GenotypeToIndex(g))
			assert.Equal(t, g, IndexToGenotype(i, 2))
		}
	})

	t.Run("should be mutual inverses for any ploidy", func(t *testing.T) {
		for ploidy := 1; ploidy <= 6; ploidy++ {
			for nAlleles := 1; nAlleles <= 5; nAlleles++ {
				size := GenotypeCount(ploidy, nAlleles)
				for i := 0; i < size; i++ {
					g := IndexToGenotype(i, ploidy)
					require.Len(t, g, ploidy)
					for k := 1; k < len(g); k++ {
						require.LessOrEqual(t, g[k-1], g[k])
					}
					require.Less(t, g[len(g)-1], nAlleles)
					require.Equal(t, i, GenotypeToIndex(g))
				}
			}
		}
	})

	t.Run("should count genotypes as combinations with repetition", func(t *testing.T) {
		assert.Equal(t, 3, GenotypeCount(2, 2))
		assert.Equal(t, 6, GenotypeCount(2, 3))
		assert.Equal(t, 4, GenotypeCount(3, 2))
		assert.Equal(t, 35, GenotypeCount(4, 4))
		assert.Equal(t, 0, GenotypeCount(2, 0))
	})
}

func TestRemapDepthArray(t *testing.T) {
	t.Run("should return the input when orders match", func(t *testing.T) {
		values := []int{3, 7}
		out := RemapDepthArray(values, []string{"A", "G"}, []string{"A", "G"})
		assert.Equal(t, values, out)
	})

	t.Run("should reorder and zero-fill", func(t *testing.T) {
		out := RemapDepthArray([]int{10, 20}, []string{"G", "A"}, []string{"A", "C", "G"})
		assert.Equal(t, []int{20, 0, 10}, out)
	})
}

func TestRemapLikelihoodArray(t *testing.T) {
	t.Run("should be the identity for identical orders", func(t *testing.T) {
		for ploidy := 1; ploidy <= 4; ploidy++ {
			for n := 1; n <= 5; n++ {
				values := randomValues(GenotypeCount(ploidy, n))
				order := baseAlleles[:n]
				assert.Equal(t, values, RemapLikelihoodArray(values, ploidy, order, append([]string(nil), order...)))
			}
		}
	})

	t.Run("should round trip through a permutation and its inverse", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for ploidy := 1; ploidy <= 4; ploidy++ {
			for n := 2; n <= 6; n++ {
				for trial := 0; trial < 5; trial++ {
					imported := append([]string(nil), baseAlleles[:n]...)
					canonical := append([]string(nil), imported...)
					rng.Shuffle(len(canonical), func(i, j int) { canonical[i], canonical[j] = canonical[j], canonical[i] })

					values := randomValues(GenotypeCount(ploidy, n))
					there := RemapLikelihoodArray(values, ploidy, imported, canonical)
					back := RemapLikelihoodArray(there, ploidy, canonical, imported)
					require.Equal(t, values, back, "ploidy %d, alleles %v -> %v", ploidy, imported, canonical)
				}
			}
		}
	})

	t.Run("should swap diploid homozygous slots", func(t *testing.T) {
		// imported order G,A : GG=0 GA=1 AA=2 ; canonical A,G : AA GA GG
		out := RemapLikelihoodArray([]int{0, 30, 300}, 2, []string{"G", "A"}, []string{"A", "G"})
		assert.Equal(t, []int{300, 30, 0}, out)
	})

	t.Run("should use the sentinel for alleles the import lacks", func(t *testing.T) {
		out := RemapLikelihoodArray([]int{0, 10, 100}, 2, []string{"A", "G"}, []string{"A", "T", "G"})
		assert.Equal(t, []int{0, MissingLikelihood, MissingLikelihood, 10, MissingLikelihood, 100}, out)
	})
}

func TestParseCall(t *testing.T) {
	alleles, phased := ParseCall("A|G")
	assert.True(t, phased)
	assert.Equal(t, []string{"A", "G"}, alleles)

	alleles, phased = ParseCall("AT/A")
	assert.False(t, phased)
	assert.Equal(t, []string{"AT", "A"}, alleles)

	alleles, _ = ParseCall(" ")
	assert.Nil(t, alleles)
}

func randomValues(n int) []int {
	values := make([]int, n)
	for i := range values {
		values[i] = rand.Intn(1000)
	}
	return values
}
