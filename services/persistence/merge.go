package persistence

import (
	"fmt"

	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/models/indexes"
	"gohan/genotypes/services/alleles"
)

// MergeVariant computes what the stored variant becomes once the local one
// is applied: new alleles appended, unset type resolved, synonyms and
// missing position filled. Reports whether anything changed.
func MergeVariant(stored *indexes.Variant, local *indexes.Variant) (*indexes.Variant, bool, error) {
	if sp, lp := stored.ReferencePosition, local.ReferencePosition; sp != nil && lp != nil &&
		(sp.Sequence != lp.Sequence || sp.Start != lp.Start) {
		return nil, false, fmt.Errorf("%w: variant %s stored at %s:%d, imported at %s:%d",
			ErrConflict, stored.Id, sp.Sequence, sp.Start, lp.Sequence, lp.Start)
	}

	next := stored.Copy()
	changed := false

	for _, a := range local.KnownAlleles {
		if !contains(next.KnownAlleles, a) {
			next.KnownAlleles = append(next.KnownAlleles, a)
			changed = true
		}
	}

	if next.Type == variantType.Unset && local.Type != variantType.Unset {
		next.Type = local.Type
		changed = true
	}

	if next.ReferencePosition == nil && local.ReferencePosition != nil {
		rp := *local.ReferencePosition
		next.ReferencePosition = &rp
		changed = true
	}

	for ns, ids := range local.Synonyms {
		for _, id := range ids {
			if contains(next.Synonyms[ns], id) {
				continue
			}
			if next.Synonyms == nil {
				next.Synonyms = map[string][]string{}
			}
			next.Synonyms[ns] = append(next.Synonyms[ns], id)
			changed = true
		}
	}
	return next, changed, nil
}

// Reindex rewrites run genotypes encoded against localAlleles so that they
// refer to canonicalAlleles. Allele depths and likelihoods follow.
func Reindex(run *indexes.VariantRunData, localAlleles []string, canonicalAlleles []string) error {
	if alleles.SameOrder(localAlleles, canonicalAlleles) {
		return nil
	}
	for sampleId, g := range run.Samples {
		code, err := alleles.TranslateCode(g.Code, localAlleles, canonicalAlleles)
		if err != nil {
			return fmt.Errorf("sample %d: %w", sampleId, err)
		}
		g.Code = code
		if g.Annotations != nil {
			ann := *g.Annotations
			if len(ann.AlleleDepths) > 0 {
				ann.AlleleDepths = alleles.RemapDepthArray(ann.AlleleDepths, localAlleles, canonicalAlleles)
			}
			if len(ann.PhredLikelihoods) > 0 {
				ann.PhredLikelihoods = alleles.RemapLikelihoodArray(ann.PhredLikelihoods, alleles.Ploidy(code), localAlleles, canonicalAlleles)
			}
			g.Annotations = &ann
		}
		run.Samples[sampleId] = g
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
