package persistence

import (
	"context"
	"errors"
	"fmt"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/services/alleles"
)

type VariantGetter interface {
	GetVariant(ctx context.Context, id string) (*indexes.Variant, error)
}

// DecodeGenotype decodes a stored genotype code against a cached allele
// list. A stale cache is refreshed from the store once; cache is updated in
// place.
func DecodeGenotype(ctx context.Context, store VariantGetter, variantId string, code string, cache *[]string) ([]string, error) {
	decoded, err := alleles.Decode(code, *cache)
	var stale *alleles.IndexOutOfRangeError
	if !errors.As(err, &stale) {
		return decoded, err
	}

	v, err := store.GetVariant(ctx, variantId)
	if err != nil {
		return nil, fmt.Errorf("refreshing alleles of %s: %w", variantId, err)
	}
	*cache = append((*cache)[:0], v.KnownAlleles...)
	return alleles.Decode(code, *cache)
}
