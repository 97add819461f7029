package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"

	c "gohan/genotypes/models/constants"
	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/identity"
)

// variantSplitter is implemented by line-oriented sources, whose records may
// each hold only part of a variant's calls: one record per synonym, or a
// marker reappearing later in a stream.
type variantSplitter interface {
	splitsVariants()
}

func (t *TabularSource) splitsVariants() {}
func (s *RemoteSource) splitsVariants()  {}

// groupedSource replays records merged by canonical variant, in the order
// each variant first appeared.
type groupedSource struct {
	records []*Record
	read    int
}

func (g *groupedSource) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.read >= len(g.records) {
		return nil, io.EOF
	}
	rec := g.records[g.read]
	g.records[g.read] = nil
	g.read++
	return rec, nil
}

func (g *groupedSource) Percent() int {
	if len(g.records) == 0 {
		return 100
	}
	return g.read * 100 / len(g.records)
}

func (g *groupedSource) Close() error {
	g.records = nil
	return nil
}

// groupByVariant drains src and merges the records that resolve to the same
// canonical variant. Records the resolver rejects pass through untouched so
// the import loop reports them.
func (r *importRun) groupByVariant(ctx context.Context, src RecordSource) (*groupedSource, error) {
	grouped := &groupedSource{}
	byVariant := map[string]*Record{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return grouped, nil
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			r.skipRow(rowErr)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s source: %w", r.req.Format, err)
		}

		key := r.variantKey(rec)
		if key == "" {
			grouped.records = append(grouped.records, rec)
			continue
		}
		if merged, ok := byVariant[key]; ok {
			merged.absorb(rec)
			continue
		}
		byVariant[key] = rec
		grouped.records = append(grouped.records, rec)
	}
}

// variantKey is the canonical id the record resolves to, or its own marker
// id when unknown. Deprecated markers get no key.
func (r *importRun) variantKey(rec *Record) string {
	id, err := r.resolver.Resolve(recordTypeHint(rec), rec.Sequence, rec.Position, rec.Candidates()...)
	if err == nil {
		return id
	}
	if errors.Is(err, identity.ErrNotFound) {
		return rec.MarkerId
	}
	return ""
}

// recordTypeHint is the declared type, else the type of the declared
// alleles. Unset when the record declares neither.
func recordTypeHint(rec *Record) c.VariantType {
	if rec.Type != variantType.Unset {
		return rec.Type
	}
	declared := make([]string, 0, len(rec.Alleles))
	for _, a := range rec.Alleles {
		if !alleles.IsMissingAllele(a) {
			declared = append(declared, alleles.Normalize(a))
		}
	}
	if len(declared) == 0 {
		return variantType.Unset
	}
	return variantType.Classify(declared)
}

// absorb appends other's calls and fills in what rec did not carry.
func (rec *Record) absorb(other *Record) {
	rec.Calls = append(rec.Calls, other.Calls...)
	if rec.Sequence == "" && other.Sequence != "" {
		rec.Sequence, rec.Position = other.Sequence, other.Position
	}
	if rec.Type == variantType.Unset {
		rec.Type = other.Type
	}
	for _, a := range other.Alleles {
		if !contains(rec.Alleles, a) {
			rec.Alleles = append(rec.Alleles, a)
		}
	}
}
