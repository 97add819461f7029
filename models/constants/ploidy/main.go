package ploidy

import (
	"gohan/genotypes/models/constants"
)

const (
	Unknown constants.Ploidy = iota

	Haploid
	Diploid
	Triploid
	Tetraploid

	// upper bound accepted from input files; anything above is assumed to be garbage
	Max constants.Ploidy = 16
)

func IsKnown(value int) bool {
	return value > int(Unknown) && value <= int(Max)
}
