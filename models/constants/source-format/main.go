package sourceFormat

import (
	"strings"

	"gohan/genotypes/models/constants"
)

const (
	Unknown constants.SourceFormat = ""

	Matrix  constants.SourceFormat = "matrix"
	Tabular constants.SourceFormat = "tabular"
	Vcf     constants.SourceFormat = "vcf"
	Remote  constants.SourceFormat = "remote"
)

func CastToSourceFormat(text string) constants.SourceFormat {
	switch strings.ToLower(text) {
	case "matrix", "flapjack", "hapmap":
		return Matrix
	case "tabular", "tsv", "csv":
		return Tabular
	case "vcf":
		return Vcf
	case "remote", "brapi":
		return Remote
	default:
		return Unknown
	}
}

// IsLineOriented reports whether the format emits one call per row and
// therefore has to go through the synonym consistency pre-pass.
func IsLineOriented(format constants.SourceFormat) bool {
	return format == Tabular || format == Remote
}
