package variantType

import (
	"strings"

	"gohan/genotypes/models/constants"
)

const (
	Unset constants.VariantType = ""

	SNP         constants.VariantType = "SNP"
	MNP         constants.VariantType = "MNP"
	INDEL       constants.VariantType = "INDEL"
	Symbolic    constants.VariantType = "SYMBOLIC"
	Mixed       constants.VariantType = "MIXED"
	NoVariation constants.VariantType = "NO_VARIATION"
)

func CastToVariantType(text string) constants.VariantType {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "SNP", "SNV":
		return SNP
	case "MNP":
		return MNP
	case "INDEL", "INS", "DEL":
		return INDEL
	case "SYMBOLIC":
		return Symbolic
	case "MIXED":
		return Mixed
	case "NO_VARIATION":
		return NoVariation
	default:
		return Unset
	}
}

// Classify infers the polymorphism type from the distinct non-missing
// alleles observed for a marker.
func Classify(alleles []string) constants.VariantType {
	if len(alleles) == 0 {
		return Unset
	}

	var (
		symbolic, sequence bool
		length             = -1
		sameLength         = true
	)
	for _, a := range alleles {
		if IsSymbolicAllele(a) {
			symbolic = true
			continue
		}
		sequence = true
		if length == -1 {
			length = len(a)
		} else if len(a) != length {
			sameLength = false
		}
	}

	switch {
	case symbolic && sequence:
		return Mixed
	case symbolic:
		return Symbolic
	case len(alleles) == 1:
		return NoVariation
	case !sameLength:
		return INDEL
	case length == 1:
		return SNP
	default:
		return MNP
	}
}

func IsSymbolicAllele(allele string) bool {
	return strings.HasPrefix(allele, "<") ||
		strings.ContainsAny(allele, "[]") ||
		allele == "*"
}
