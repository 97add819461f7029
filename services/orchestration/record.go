package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"

	c "gohan/genotypes/models/constants"
	"gohan/genotypes/services/alleles"
)

type (
	// Call is one individual's genotype at one marker, as read from the
	// source. Alleles are symbols; an empty list means missing data.
	Call struct {
		IndividualId string
		Population   string
		Alleles      []string
		Phased       bool

		Depth            *int
		GenotypeQuality  *int
		AlleleDepths     []int
		PhredLikelihoods []int
		PhaseGroup       string
		Extras           map[string]string
	}

	// Record carries every call of one marker. Alleles, when set, is the
	// source's own allele order (REF first for VCF) that AlleleDepths and
	// PhredLikelihoods are indexed against.
	Record struct {
		MarkerId string
		Synonyms []string
		Type     c.VariantType
		Sequence string
		Position int64
		Alleles  []string
		Calls    []Call
	}

	// RecordSource is implemented by every format adapter. Next returns
	// io.EOF after the last record.
	RecordSource interface {
		Next(ctx context.Context) (*Record, error)
		Close() error
	}

	// RowError reports a malformed input row; the import logs and skips it.
	RowError struct {
		Line   int
		Reason string
	}
)

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Candidates lists the ids the resolver should try for this record.
func (r *Record) Candidates() []string {
	return append([]string{r.MarkerId}, r.Synonyms...)
}

func (call Call) IsMissing() bool {
	if len(call.Alleles) == 0 {
		return true
	}
	for _, a := range call.Alleles {
		if alleles.IsMissingAllele(a) {
			return true
		}
	}
	return false
}

// peekingSource buffers records read ahead of the import loop, e.g. while
// looking for the first called genotype.
type peekingSource struct {
	RecordSource
	buffered []*Record
	// row errors met while reading ahead, reported by the import loop
	rowErrors []*RowError
	// set once the underlying source returned io.EOF during a peek
	exhausted bool
}

func newPeekingSource(src RecordSource) *peekingSource {
	return &peekingSource{RecordSource: src}
}

// firstCall reads ahead until a non-missing call shows up and returns it,
// or nil when the source has none.
func (p *peekingSource) firstCall(ctx context.Context) (*Call, *Record, error) {
	for _, rec := range p.buffered {
		for i := range rec.Calls {
			if !rec.Calls[i].IsMissing() {
				return &rec.Calls[i], rec, nil
			}
		}
	}
	for !p.exhausted {
		rec, err := p.RecordSource.Next(ctx)
		if err == io.EOF {
			p.exhausted = true
			break
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			p.rowErrors = append(p.rowErrors, rowErr)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		p.buffered = append(p.buffered, rec)
		for i := range rec.Calls {
			if !rec.Calls[i].IsMissing() {
				return &rec.Calls[i], rec, nil
			}
		}
	}
	return nil, nil, nil
}

func (p *peekingSource) Next(ctx context.Context) (*Record, error) {
	if len(p.buffered) > 0 {
		rec := p.buffered[0]
		p.buffered = p.buffered[1:]
		return rec, nil
	}
	if p.exhausted {
		return nil, io.EOF
	}
	return p.RecordSource.Next(ctx)
}
