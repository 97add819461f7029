package alleles

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	vt "gohan/genotypes/models/constants/variant-type"
)

const (
	UnphasedSeparator = "/"
	PhasedSeparator   = "|"

	// assigned to likelihood slots whose genotype involves an allele
	// the importer never reported
	MissingLikelihood = math.MaxInt32
)

var ErrMissingData = errors.New("missing genotype data")

type UnknownAlleleError struct {
	Allele string
}

func (e *UnknownAlleleError) Error() string {
	return fmt.Sprintf("unknown allele symbol %q", e.Allele)
}

// IndexOutOfRangeError means the cached known-allele list is stale: refresh
// it from the store and decode again.
type IndexOutOfRangeError struct {
	Index int
	Size  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("allele index %d out of range for %d known alleles", e.Index, e.Size)
}

var missingMarkers = map[string]bool{
	"":   true,
	".":  true,
	"-":  true,
	"0":  true,
	"N":  true,
	"?":  true,
	"NA": true,
}

func IsMissingAllele(allele string) bool {
	return missingMarkers[strings.ToUpper(strings.TrimSpace(allele))]
}

// IsValidAlleleSymbol accepts nucleotide strings, the spanning deletion and
// symbolic / breakend alleles.
func IsValidAlleleSymbol(allele string) bool {
	if allele == "" {
		return false
	}
	if vt.IsSymbolicAllele(allele) {
		return true
	}
	for i := 0; i < len(allele); i++ {
		switch allele[i] {
		case 'A', 'C', 'G', 'T', 'N', 'a', 'c', 'g', 't', 'n':
		default:
			return false
		}
	}
	return true
}

// Normalize upper-cases nucleotide alleles and leaves symbolic ones alone.
func Normalize(allele string) string {
	allele = strings.TrimSpace(allele)
	if vt.IsSymbolicAllele(allele) {
		return allele
	}
	return strings.ToUpper(allele)
}

func indexOf(list []string, allele string) int {
	for i, a := range list {
		if a == allele {
			return i
		}
	}
	return -1
}

// Encode turns observed allele symbols into an ascending allele-index code.
// Symbols absent from knownAlleles are appended to it; the caller is
// responsible for persisting the grown list. A call with any missing allele
// is missing as a whole.
func Encode(alleles []string, knownAlleles *[]string, phased bool) (string, error) {
	if len(alleles) == 0 {
		return "", ErrMissingData
	}

	normalized := make([]string, len(alleles))
	for i, a := range alleles {
		if IsMissingAllele(a) {
			return "", ErrMissingData
		}
		n := Normalize(a)
		if !IsValidAlleleSymbol(n) {
			return "", &UnknownAlleleError{Allele: a}
		}
		normalized[i] = n
	}

	indices := make([]int, len(normalized))
	for i, a := range normalized {
		idx := indexOf(*knownAlleles, a)
		if idx == -1 {
			*knownAlleles = append(*knownAlleles, a)
			idx = len(*knownAlleles) - 1
		}
		indices[i] = idx
	}
	sort.Ints(indices)

	return JoinIndices(indices, phased), nil
}

func JoinIndices(indices []int, phased bool) string {
	sep := UnphasedSeparator
	if phased {
		sep = PhasedSeparator
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// SplitCode parses a genotype code into its allele indices.
func SplitCode(code string) ([]int, bool, error) {
	if code == "" {
		return nil, false, ErrMissingData
	}
	phased := strings.Contains(code, PhasedSeparator)
	parts := strings.FieldsFunc(code, func(r rune) bool { return r == '/' || r == '|' })
	indices := make([]int, len(parts))
	for i, p := range parts {
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 {
			return nil, phased, fmt.Errorf("malformed genotype code %q", code)
		}
		indices[i] = idx
	}
	return indices, phased, nil
}

// Decode maps a genotype code back to allele symbols.
func Decode(code string, knownAlleles []string) ([]string, error) {
	indices, _, err := SplitCode(code)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(indices))
	for i, idx := range indices {
		if idx >= len(knownAlleles) {
			return nil, &IndexOutOfRangeError{Index: idx, Size: len(knownAlleles)}
		}
		out[i] = knownAlleles[idx]
	}
	return out, nil
}

// TranslateCode re-expresses a code written against one allele ordering in
// terms of another; every allele must be present in the target list.
func TranslateCode(code string, from []string, to []string) (string, error) {
	indices, phased, err := SplitCode(code)
	if err != nil {
		return "", err
	}
	translated := make([]int, len(indices))
	for i, idx := range indices {
		if idx >= len(from) {
			return "", &IndexOutOfRangeError{Index: idx, Size: len(from)}
		}
		t := indexOf(to, from[idx])
		if t == -1 {
			return "", &UnknownAlleleError{Allele: from[idx]}
		}
		translated[i] = t
	}
	sort.Ints(translated)
	return JoinIndices(translated, phased), nil
}

func Ploidy(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(code, UnphasedSeparator) + strings.Count(code, PhasedSeparator) + 1
}

// ParseCall splits a raw call such as "A/G" or "C|T" into alleles.
func ParseCall(cell string) ([]string, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, false
	}
	if strings.Contains(cell, PhasedSeparator) {
		return strings.Split(cell, PhasedSeparator), true
	}
	return strings.Split(cell, UnphasedSeparator), false
}

func SameOrder(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RemapDepthArray reorders a per-allele array (AD-style) from the importer's
// allele order into the canonical one. Canonical alleles the importer did not
// report get 0.
func RemapDepthArray(values []int, importedOrder []string, canonicalOrder []string) []int {
	if SameOrder(importedOrder, canonicalOrder) {
		return values
	}
	out := make([]int, len(canonicalOrder))
	for i, allele := range canonicalOrder {
		j := indexOf(importedOrder, allele)
		if j >= 0 && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

// RemapLikelihoodArray reorders a per-genotype array (PL-style) from the
// importer's allele order into the canonical one.
func RemapLikelihoodArray(values []int, ploidy int, importedOrder []string, canonicalOrder []string) []int {
	if SameOrder(importedOrder, canonicalOrder) {
		return values
	}

	canonicalToImported := make([]int, len(canonicalOrder))
	for i, allele := range canonicalOrder {
		canonicalToImported[i] = indexOf(importedOrder, allele)
	}

	size := GenotypeCount(ploidy, len(canonicalOrder))
	out := make([]int, size)
	imported := make([]int, ploidy)
	for i := 0; i < size; i++ {
		genotype := IndexToGenotype(i, ploidy)

		absent := false
		for k, a := range genotype {
			imported[k] = canonicalToImported[a]
			if imported[k] == -1 {
				absent = true
				break
			}
		}
		if absent {
			out[i] = MissingLikelihood
			continue
		}

		sort.Ints(imported)
		j := GenotypeToIndex(imported)
		if j < len(values) {
			out[i] = values[j]
		} else {
			out[i] = MissingLikelihood
		}
	}
	return out
}
