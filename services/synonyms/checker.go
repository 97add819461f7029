package synonyms

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	c "gohan/genotypes/models/constants"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/utils"
)

type (
	// Call is a single (marker, individual, genotype) observation from a
	// line-oriented source.
	Call struct {
		MarkerId     string
		IndividualId string
		Genotype     string
		Type         c.VariantType
		Sequence     string
		Position     int64
	}

	CallSource interface {
		EachCall(ctx context.Context, fn func(Call) error) error
	}

	Resolver interface {
		Resolve(variantType c.VariantType, sequence string, position int64, candidateIds ...string) (string, error)
	}

	// Exclusions holds the (variant, individual) pairs whose calls disagree
	// across synonyms. Read-only once Check returns.
	Exclusions struct {
		pairs map[string]map[string]struct{}
		count int
	}

	observation struct {
		synonym  string
		genotype string
	}

	pairState struct {
		genotype     string
		observations []observation
		conflicting  bool
	}
)

func NewExclusions() *Exclusions {
	return &Exclusions{pairs: map[string]map[string]struct{}{}}
}

func (e *Exclusions) add(variantId string, individualId string) {
	individuals, ok := e.pairs[variantId]
	if !ok {
		individuals = map[string]struct{}{}
		e.pairs[variantId] = individuals
	}
	if _, ok := individuals[individualId]; !ok {
		individuals[individualId] = struct{}{}
		e.count++
	}
}

func (e *Exclusions) Excludes(variantId string, individualId string) bool {
	if e == nil {
		return false
	}
	_, ok := e.pairs[variantId][individualId]
	return ok
}

func (e *Exclusions) Count() int {
	if e == nil {
		return 0
	}
	return e.count
}

// Individuals lists the excluded individuals of a variant, sorted.
func (e *Exclusions) Individuals(variantId string) []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.pairs[variantId]))
	for id := range e.pairs[variantId] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Checker streams a source once, grouping calls by individual then by
// canonical variant, and flags pairs reported with more than one distinct
// genotype under different synonyms.
type Checker struct {
	resolver Resolver
	logger   *utils.Logger
}

func NewChecker(resolver Resolver, logger *utils.Logger) *Checker {
	return &Checker{resolver: resolver, logger: logger.OrNop()}
}

// Check builds the exclusion set and writes one report line per
// inconsistent pair: variant, individual, then synonym=genotype entries.
func (ch *Checker) Check(ctx context.Context, source CallSource, report io.Writer) (*Exclusions, error) {
	byIndividual := map[string]map[string]*pairState{}
	var individualOrder []string

	err := source.EachCall(ctx, func(call Call) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		genotype, ok := NormalizeGenotype(call.Genotype)
		if !ok {
			return nil
		}
		variantId, err := ch.resolver.Resolve(call.Type, call.Sequence, call.Position, call.MarkerId)
		if err != nil {
			// unresolvable markers are dealt with by the import itself
			return nil
		}

		variants, ok := byIndividual[call.IndividualId]
		if !ok {
			variants = map[string]*pairState{}
			byIndividual[call.IndividualId] = variants
			individualOrder = append(individualOrder, call.IndividualId)
		}
		state, ok := variants[variantId]
		if !ok {
			variants[variantId] = &pairState{
				genotype:     genotype,
				observations: []observation{{synonym: call.MarkerId, genotype: genotype}},
			}
			return nil
		}
		state.observations = append(state.observations, observation{synonym: call.MarkerId, genotype: genotype})
		if genotype != state.genotype {
			state.conflicting = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("synonym consistency pass: %w", err)
	}

	exclusions := NewExclusions()
	for _, individualId := range individualOrder {
		variants := byIndividual[individualId]
		variantIds := make([]string, 0, len(variants))
		for id, state := range variants {
			if state.conflicting {
				variantIds = append(variantIds, id)
			}
		}
		sort.Strings(variantIds)

		for _, variantId := range variantIds {
			exclusions.add(variantId, individualId)
			ch.logger.Warn("inconsistent genotypes across synonyms", "variant", variantId, "individual", individualId)
			if report == nil {
				continue
			}
			if _, err := io.WriteString(report, reportLine(variantId, individualId, variants[variantId].observations)); err != nil {
				return nil, fmt.Errorf("writing inconsistency report: %w", err)
			}
		}
	}
	return exclusions, nil
}

func reportLine(variantId string, individualId string, observations []observation) string {
	entries := make([]string, len(observations))
	for i, o := range observations {
		entries[i] = o.synonym + "=" + o.genotype
	}
	return variantId + "\t" + individualId + "\t" + strings.Join(entries, ";") + "\n"
}

// missingCall lists the allele tokens the checker treats as no data. Allele
// indices such as "0" are genotypes here, not gaps.
var missingCall = map[string]bool{"": true, ".": true, "-": true}

// NormalizeGenotype renders a raw call as upper-cased, sorted alleles joined
// by "/" so that "G/A" and "a/g" compare equal. Missing calls report false.
func NormalizeGenotype(raw string) (string, bool) {
	parts, _ := alleles.ParseCall(raw)
	if len(parts) == 1 && len(parts[0]) == 2 && !missingCall[strings.TrimSpace(parts[0])] {
		// two-character unseparated call such as "AG"
		parts = []string{parts[0][:1], parts[0][1:]}
	}
	if len(parts) == 0 {
		return "", false
	}
	normalized := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if missingCall[p] {
			return "", false
		}
		normalized[i] = p
	}
	sort.Strings(normalized)
	return strings.Join(normalized, alleles.UnphasedSeparator), true
}
