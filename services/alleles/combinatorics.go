package alleles

// Choose returns the binomial coefficient C(n, k), 0 when k is out of range.
func Choose(n int, k int) int {
	if k < 0 || n < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 1; i <= k; i++ {
		result = result * (n - k + i) / i
	}
	return result
}

// GenotypeCount is the number of unordered genotypes of the given ploidy
// over nAlleles alleles (combinations with repetition).
func GenotypeCount(ploidy int, nAlleles int) int {
	if ploidy <= 0 || nAlleles <= 0 {
		return 0
	}
	return Choose(ploidy+nAlleles-1, nAlleles-1)
}

// GenotypeToIndex gives the position of an ascending allele-index tuple in
// the VCF PL ordering: sum of C(k + a_k - 1, k) for k = 1..ploidy.
func GenotypeToIndex(genotype []int) int {
	index := 0
	for k := 1; k <= len(genotype); k++ {
		index += Choose(k+genotype[k-1]-1, k)
	}
	return index
}

// IndexToGenotype is the inverse of GenotypeToIndex.
func IndexToGenotype(index int, ploidy int) []int {
	genotype := make([]int, ploidy)
	remaining := index
	for k := ploidy; k >= 1; k-- {
		a := 0
		for Choose(k+a, k) <= remaining {
			a++
		}
		genotype[k-1] = a
		remaining -= Choose(k+a-1, k)
	}
	return genotype
}
