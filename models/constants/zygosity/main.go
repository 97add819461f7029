package zygosity

import (
	"strings"

	"gohan/genotypes/models/constants"
)

const (
	Unknown constants.Zygosity = iota
	// Diploid or higher
	Heterozygous
	HomozygousReference
	HomozygousAlternate

	// Haploid (deliberately below diploid for sequential id'ing purposes)
	Reference
	Alternate
)

func ZygosityToString(zyg constants.Zygosity) string {
	switch zyg {
	// Haploid
	case Reference:
		return "REFERENCE"
	case Alternate:
		return "ALTERNATE"

	// Diploid or higher
	case Heterozygous:
		return "HETEROZYGOUS"
	case HomozygousReference:
		return "HOMOZYGOUS_REFERENCE"
	case HomozygousAlternate:
		return "HOMOZYGOUS_ALTERNATE"
	default:
		return "UNKNOWN"
	}
}

// FromGenotypeCode derives zygosity from an allele-index code such as
// "0/1" or "1|1". Index 0 is the reference allele.
func FromGenotypeCode(code string) constants.Zygosity {
	if code == "" {
		return Unknown
	}
	parts := strings.FieldsFunc(code, func(r rune) bool { return r == '/' || r == '|' })
	if len(parts) == 1 {
		if parts[0] == "0" {
			return Reference
		}
		return Alternate
	}

	for _, p := range parts[1:] {
		if p != parts[0] {
			return Heterozygous
		}
	}
	if parts[0] == "0" {
		return HomozygousReference
	}
	return HomozygousAlternate
}
