package orchestration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/synonyms"
	"gohan/genotypes/services/transposition"
	"gohan/genotypes/utils"
)

const (
	colMarker = iota
	colIndividual
	colGenotype
	colPopulation
	colSequence
	colPosition
	colType
	colCount
)

var tabularColumnNames = map[string]int{
	"marker":       colMarker,
	"markerid":     colMarker,
	"variant":      colMarker,
	"variantid":    colMarker,
	"snp":          colMarker,
	"snpid":        colMarker,
	"individual":   colIndividual,
	"individualid": colIndividual,
	"sample":       colIndividual,
	"sampleid":     colIndividual,
	"genotype":     colGenotype,
	"call":         colGenotype,
	"gt":           colGenotype,
	"population":   colPopulation,
	"pop":          colPopulation,
	"chromosome":   colSequence,
	"chrom":        colSequence,
	"chr":          colSequence,
	"sequence":     colSequence,
	"position":     colPosition,
	"pos":          colPosition,
	"type":         colType,
}

type (
	// TabularLayout configures a one-call-per-line source. Columns are
	// found by header name; a zero Delimiter is detected from the header.
	TabularLayout struct {
		Delimiter    rune
		MissingToken string
	}

	tabularRow struct {
		call   Call
		marker string
		raw    string
		fields []string
	}

	// TabularSource groups the calls of each marker into one record, in
	// the order markers first appear in the file.
	TabularSource struct {
		path    string
		layout  TabularLayout
		columns [colCount]int

		records   []*Record
		rowErrors []*RowError
		total     int
		read      int
	}
)

func NewTabularSource(ctx context.Context, path string, layout TabularLayout) (*TabularSource, error) {
	t := &TabularSource{path: path, layout: layout}
	byMarker := map[string]*Record{}

	err := t.scan(ctx, func(row *tabularRow, rowErr *RowError) error {
		if rowErr != nil {
			t.rowErrors = append(t.rowErrors, rowErr)
			return nil
		}
		rec, ok := byMarker[row.marker]
		if !ok {
			rec = &Record{MarkerId: row.marker}
			if i := t.columns[colSequence]; i >= 0 {
				rec.Sequence = row.fields[i]
			}
			if i := t.columns[colPosition]; i >= 0 {
				rec.Position, _ = strconv.ParseInt(row.fields[i], 10, 64)
			}
			if i := t.columns[colType]; i >= 0 {
				rec.Type = variantType.CastToVariantType(row.fields[i])
			}
			byMarker[row.marker] = rec
			t.records = append(t.records, rec)
		}
		rec.Calls = append(rec.Calls, row.call)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.total = len(t.records)
	return t, nil
}

func detectTabularDelimiter(header string) rune {
	for _, d := range []rune{'\t', ',', ';'} {
		if strings.ContainsRune(header, d) {
			return d
		}
	}
	return '\t'
}

func (t *TabularSource) parseHeader(header string) error {
	if t.layout.Delimiter == 0 {
		t.layout.Delimiter = detectTabularDelimiter(header)
	}
	for i := range t.columns {
		t.columns[i] = -1
	}
	for i, name := range strings.Split(header, string(t.layout.Delimiter)) {
		key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "#", "").Replace(strings.TrimSpace(name)))
		if col, ok := tabularColumnNames[key]; ok && t.columns[col] == -1 {
			t.columns[col] = i
		}
	}
	for _, required := range []int{colMarker, colIndividual, colGenotype} {
		if t.columns[required] == -1 {
			return errors.New("header needs marker, individual and genotype columns")
		}
	}
	return nil
}

// scan streams the file, calling fn with either a parsed row or the reason
// a row was rejected.
func (t *TabularSource) scan(ctx context.Context, fn func(*tabularRow, *RowError) error) error {
	r, err := utils.OpenInput(t.path)
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	lineNumber := 0
	headerSeen := false
	for scanner.Scan() {
		lineNumber++
		if lineNumber%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !headerSeen {
			if err := t.parseHeader(line); err != nil {
				return fmt.Errorf("%s: %w", t.path, err)
			}
			headerSeen = true
			continue
		}

		row, rowErr := t.parseRow(lineNumber, line)
		if err := fn(row, rowErr); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", t.path, err)
	}
	if !headerSeen {
		return fmt.Errorf("%s: no header line", t.path)
	}
	return nil
}

func (t *TabularSource) parseRow(lineNumber int, line string) (*tabularRow, *RowError) {
	fields := strings.Split(line, string(t.layout.Delimiter))
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	for _, col := range t.columns {
		if col >= len(fields) {
			return nil, &RowError{Line: lineNumber, Reason: fmt.Sprintf("expected at least %d fields, found %d", col+1, len(fields))}
		}
	}

	marker := fields[t.columns[colMarker]]
	individual := fields[t.columns[colIndividual]]
	if marker == "" || individual == "" {
		return nil, &RowError{Line: lineNumber, Reason: "empty marker or individual"}
	}
	if i := t.columns[colPosition]; i >= 0 && fields[i] != "" {
		if _, err := strconv.ParseInt(fields[i], 10, 64); err != nil {
			return nil, &RowError{Line: lineNumber, Reason: fmt.Sprintf("invalid position %q", fields[i])}
		}
	}

	raw := fields[t.columns[colGenotype]]
	parsed, phased := alleles.ParseCall(transposition.NormalizeCall(raw, t.layout.MissingToken))
	call := Call{IndividualId: individual, Alleles: parsed, Phased: phased}
	if i := t.columns[colPopulation]; i >= 0 {
		call.Population = fields[i]
	}
	return &tabularRow{call: call, marker: marker, raw: raw, fields: fields}, nil
}

func (t *TabularSource) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.rowErrors) > 0 {
		rowErr := t.rowErrors[0]
		t.rowErrors = t.rowErrors[1:]
		return nil, rowErr
	}
	if t.read >= len(t.records) {
		return nil, io.EOF
	}
	rec := t.records[t.read]
	t.records[t.read] = nil
	t.read++
	return rec, nil
}

func (t *TabularSource) Percent() int {
	if t.total == 0 {
		return 100
	}
	return t.read * 100 / t.total
}

// EachCall streams the file again, one call per valid line, for the
// synonym consistency pass.
func (t *TabularSource) EachCall(ctx context.Context, fn func(synonyms.Call) error) error {
	return t.scan(ctx, func(row *tabularRow, rowErr *RowError) error {
		if rowErr != nil || row.call.IsMissing() {
			return nil
		}
		call := synonyms.Call{
			MarkerId:     row.marker,
			IndividualId: row.call.IndividualId,
			Genotype:     transposition.NormalizeCall(row.raw, t.layout.MissingToken),
		}
		if i := t.columns[colSequence]; i >= 0 {
			call.Sequence = row.fields[i]
		}
		if i := t.columns[colPosition]; i >= 0 {
			call.Position, _ = strconv.ParseInt(row.fields[i], 10, 64)
		}
		if i := t.columns[colType]; i >= 0 {
			call.Type = variantType.CastToVariantType(row.fields[i])
		}
		return fn(call)
	})
}

func (t *TabularSource) Close() error {
	t.records = nil
	return nil
}

var (
	_ RecordSource        = (*TabularSource)(nil)
	_ synonyms.CallSource = (*TabularSource)(nil)
)
