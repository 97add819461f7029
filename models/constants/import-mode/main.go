package importMode

import (
	"strings"

	"gohan/genotypes/models/constants"
)

const (
	Unknown constants.ImportMode = ""

	// keep previous runs, ploidy must match the project's
	Append constants.ImportMode = "append"
	// drop previous records of the same run first
	Replace constants.ImportMode = "replace"
)

func CastToImportMode(text string) constants.ImportMode {
	switch strings.ToLower(text) {
	case "", "append":
		return Append
	case "replace":
		return Replace
	default:
		return Unknown
	}
}
