package constants

/*
	Defines a set of base level
	constants and enums to be used
	throughout the genotype importer
	and it's associated services.
*/
type Ploidy int
type VariantType string
type ImportMode string
type SourceFormat string

type Zygosity int
