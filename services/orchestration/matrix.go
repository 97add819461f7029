package orchestration

import (
	"context"
	"fmt"
	"strings"

	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/transposition"
)

// MatrixSource reads the marker-major output of a transposition, one
// record per marker line.
type MatrixSource struct {
	result *transposition.Result
	lines  *transposition.LineReader
	read   int
}

func NewMatrixSource(result *transposition.Result) (*MatrixSource, error) {
	lines, err := result.Open()
	if err != nil {
		return nil, fmt.Errorf("opening transposed matrix: %w", err)
	}
	return &MatrixSource{result: result, lines: lines}, nil
}

func (m *MatrixSource) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	marker, line, err := m.lines.Next()
	if err != nil {
		return nil, err
	}
	m.read++

	cells := strings.Split(line, "\t")
	if len(cells)-1 != len(m.result.Individuals) {
		return nil, &RowError{Line: marker + 1, Reason: fmt.Sprintf("expected %d genotypes, found %d", len(m.result.Individuals), len(cells)-1)}
	}

	rec := &Record{
		MarkerId: cells[0],
		Type:     m.result.TypeOf(marker),
		Calls:    make([]Call, len(m.result.Individuals)),
	}
	for i, individual := range m.result.Individuals {
		parsed, phased := alleles.ParseCall(cells[i+1])
		rec.Calls[i] = Call{IndividualId: individual, Alleles: parsed, Phased: phased}
	}
	return rec, nil
}

// Percent reports how much of the matrix was consumed.
func (m *MatrixSource) Percent() int {
	if len(m.result.Markers) == 0 {
		return 100
	}
	return m.read * 100 / len(m.result.Markers)
}

// Close releases the reader and removes the transposed file.
func (m *MatrixSource) Close() error {
	err := m.lines.Close()
	if cleanupErr := m.result.Cleanup(); err == nil {
		err = cleanupErr
	}
	return err
}

var _ RecordSource = (*MatrixSource)(nil)
