package transposition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	c "gohan/genotypes/models/constants"
	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/utils"

	"golang.org/x/sync/errgroup"
)

type (
	blockExtent struct {
		firstMarker int
		markers     int
		offset      int64
		length      int64
	}

	// Result describes a marker-major temporary file: one line per marker,
	// the marker name then one tab-separated genotype per individual.
	Result struct {
		OutputPath  string
		Markers     []string
		Individuals []string
		// only markers whose type is not SNP are listed
		Types       map[int]c.VariantType
		SkippedRows int

		blocks []blockExtent
	}

	Transposer struct {
		coordinator  *Coordinator
		tmpDir       string
		missingToken string
		logger       *utils.Logger
	}

	// claims of marker ranges, shared by the workers of one transposition
	cursor struct {
		mu        sync.Mutex
		next      int
		total     int
		blockSize int
	}

	output struct {
		mu      sync.Mutex
		f       *os.File
		written int64
		blocks  []blockExtent
		types   map[int]c.VariantType
		done    int
	}
)

func NewTransposer(coordinator *Coordinator, tmpDir string, missingToken string, logger *utils.Logger) *Transposer {
	return &Transposer{
		coordinator:  coordinator,
		tmpDir:       tmpDir,
		missingToken: strings.ToUpper(strings.TrimSpace(missingToken)),
		logger:       logger.OrNop(),
	}
}

func (cur *cursor) claim() (int, int, bool) {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.next >= cur.total {
		return 0, 0, false
	}
	start := cur.next
	end := start + cur.blockSize
	if end > cur.total {
		end = cur.total
	}
	cur.next = end
	return start, end, true
}

func (o *output) write(firstMarker int, lines []byte, markers int, types map[int]c.VariantType) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.f.Write(lines)
	if err != nil {
		return o.done, err
	}
	o.blocks = append(o.blocks, blockExtent{firstMarker: firstMarker, markers: markers, offset: o.written, length: int64(n)})
	o.written += int64(n)
	for k, v := range types {
		o.types[k] = v
	}
	o.done += markers
	return o.done, nil
}

// Transpose converts a sample-major matrix into a marker-major file. Any
// worker failure aborts the indicator and discards the output.
func (t *Transposer) Transpose(ctx context.Context, inputPath string, indicator *progress.Indicator) (*Result, error) {
	release, err := t.coordinator.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	plainPath, cleanup, err := utils.EnsurePlainFile(inputPath, t.tmpDir)
	if err != nil {
		return nil, fmt.Errorf("opening matrix %s: %w", inputPath, err)
	}
	defer cleanup()

	l, err := prescan(ctx, plainPath, t.logger)
	if err != nil {
		return nil, err
	}

	individuals := make([]string, len(l.rows))
	for i, r := range l.rows {
		individuals[i] = r.individual
	}

	out, err := os.CreateTemp(t.tmpDir, "gt-transposed-*.tsv")
	if err != nil {
		return nil, err
	}
	result := &Result{
		OutputPath:  out.Name(),
		Markers:     l.markers,
		Individuals: individuals,
		SkippedRows: l.skipped,
	}

	workers := t.coordinator.Workers()
	blockSize := t.coordinator.BlockSize(len(l.markers), len(l.rows), workers)
	if blocks := (len(l.markers) + blockSize - 1) / blockSize; blocks < workers {
		workers = blocks
	}
	if workers < 1 {
		workers = 1
	}
	t.logger.Debug("transposing matrix", "markers", len(l.markers), "individuals", len(l.rows), "blockSize", blockSize, "workers", workers)

	cur := &cursor{total: len(l.markers), blockSize: blockSize}
	shared := &output{f: out, types: map[int]c.VariantType{}}
	rowCheckpoints := make([]*checkpoints, len(l.rows))
	for i, r := range l.rows {
		if r.cellWidth == 0 {
			rowCheckpoints[i] = &checkpoints{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			src, err := os.Open(plainPath)
			if err != nil {
				return err
			}
			defer src.Close()
			reader := newRowReader(src)

			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				if indicator != nil && indicator.IsAborted() {
					return errAborted(indicator)
				}
				start, end, ok := cur.claim()
				if !ok {
					return nil
				}
				lines, types, err := t.transposeBlock(reader, l, rowCheckpoints, start, end)
				if err != nil {
					return err
				}
				done, err := shared.write(start, lines, end-start, types)
				if err != nil {
					return err
				}
				if indicator != nil && len(l.markers) > 0 {
					indicator.SetPercent(done * 100 / len(l.markers))
				}
			}
		})
	}

	err = g.Wait()
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out.Name())
		if indicator != nil {
			indicator.Abort(err)
		}
		return nil, fmt.Errorf("transposing %s: %w", inputPath, err)
	}

	sort.Slice(shared.blocks, func(i, j int) bool { return shared.blocks[i].firstMarker < shared.blocks[j].firstMarker })
	result.blocks = shared.blocks
	result.Types = shared.types
	return result, nil
}

func errAborted(indicator *progress.Indicator) error {
	if msg := indicator.Error(); msg != "" {
		return errors.New(msg)
	}
	return errors.New("transposition aborted")
}

// transposeBlock reads markers [start, end) of every row and renders them
// as marker lines.
func (t *Transposer) transposeBlock(reader *rowReader, l *layout, rowCheckpoints []*checkpoints, start int, end int) ([]byte, map[int]c.VariantType, error) {
	width := end - start
	builders := make([]strings.Builder, width)
	for m := 0; m < width; m++ {
		builders[m].WriteString(l.markers[start+m])
	}
	observed := make([]map[string]struct{}, width)

	for ri, r := range l.rows {
		reader.seek(r.start, r.end)

		if r.cellWidth > 0 {
			stride := int64(r.cellWidth + 1)
			for m := 0; m < width; m++ {
				cell, err := reader.fixedCell(r.start+int64(start+m)*stride, r.cellWidth)
				if err != nil {
					return nil, nil, fmt.Errorf("row %s, marker %d: %w", r.individual, start+m, err)
				}
				t.emit(&builders[m], &observed[m], cell)
			}
			continue
		}

		cp := rowCheckpoints[ri]
		cell, offset, ok := cp.nearest(start)
		if !ok {
			cell, offset = 0, r.start
		}
		reader.seek(offset, r.end)
		if err := reader.skipCells(start-cell, l.delimiter, l.collapse); err != nil {
			return nil, nil, fmt.Errorf("row %s: %w", r.individual, err)
		}
		cp.record(start, reader.offset())

		for m := 0; m < width; m++ {
			value, err := reader.nextCell(l.delimiter, l.collapse)
			if err != nil {
				return nil, nil, fmt.Errorf("row %s, marker %d: %w", r.individual, start+m, err)
			}
			t.emit(&builders[m], &observed[m], value)
		}
		cp.record(end, reader.offset())
	}

	var size int
	for m := range builders {
		size += builders[m].Len() + 1
	}
	lines := make([]byte, 0, size)
	types := map[int]c.VariantType{}
	for m := range builders {
		lines = append(lines, builders[m].String()...)
		lines = append(lines, '\n')

		distinct := make([]string, 0, len(observed[m]))
		for a := range observed[m] {
			distinct = append(distinct, a)
		}
		if vt := variantType.Classify(distinct); vt != variantType.SNP {
			types[start+m] = vt
		}
	}
	return lines, types, nil
}

func (t *Transposer) emit(sb *strings.Builder, observed *map[string]struct{}, cell []byte) {
	call := NormalizeCall(string(cell), t.missingToken)
	sb.WriteByte('\t')
	sb.WriteString(call)

	parts, _ := alleles.ParseCall(call)
	for _, p := range parts {
		if alleles.IsMissingAllele(p) {
			continue
		}
		if *observed == nil {
			*observed = map[string]struct{}{}
		}
		(*observed)[strings.ToUpper(p)] = struct{}{}
	}
}

// NormalizeCall renders a matrix cell as a separated two-allele call:
// missing cells become 0/0, single-character calls x/x and two-character
// unseparated calls x/y. Separated calls pass through.
func NormalizeCall(cell string, missingToken string) string {
	cell = strings.TrimSpace(cell)
	upper := strings.ToUpper(cell)
	switch {
	case upper == "" || upper == "-" || upper == "N" || upper == "0" || upper == "." || upper == "?":
		return "0/0"
	case missingToken != "" && upper == missingToken:
		return "0/0"
	case strings.ContainsAny(cell, alleles.UnphasedSeparator+alleles.PhasedSeparator):
		return cell
	case len(cell) == 1:
		return upper + alleles.UnphasedSeparator + upper
	case len(cell) == 2:
		return upper[:1] + alleles.UnphasedSeparator + upper[1:]
	default:
		return upper + alleles.UnphasedSeparator + upper
	}
}

// TypeOf returns the inferred type of a marker, SNP unless listed.
func (r *Result) TypeOf(marker int) c.VariantType {
	if vt, ok := r.Types[marker]; ok {
		return vt
	}
	return variantType.SNP
}

// LineReader pulls marker lines in marker order, whatever order the blocks
// were written in.
type LineReader struct {
	f      *os.File
	blocks []blockExtent
	block  int
	marker int
	reader *bufio.Reader
}

func (r *Result) Open() (*LineReader, error) {
	f, err := os.Open(r.OutputPath)
	if err != nil {
		return nil, err
	}
	return &LineReader{f: f, blocks: r.blocks}, nil
}

// Next returns io.EOF once every marker was read.
func (lr *LineReader) Next() (int, string, error) {
	for lr.reader == nil || lr.marker >= lr.blocks[lr.block].markers {
		if lr.reader != nil {
			lr.block++
		}
		if lr.block >= len(lr.blocks) {
			return 0, "", io.EOF
		}
		b := lr.blocks[lr.block]
		lr.reader = bufio.NewReaderSize(io.NewSectionReader(lr.f, b.offset, b.length), 1<<16)
		lr.marker = 0
	}

	b := lr.blocks[lr.block]
	index := b.firstMarker + lr.marker
	line, err := lr.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return 0, "", fmt.Errorf("reading transposed block at marker %d: %w", index, err)
	}
	lr.marker++
	return index, strings.TrimRight(line, "\n"), nil
}

func (lr *LineReader) Close() error {
	return lr.f.Close()
}

// Lines calls fn for every marker line, in marker order.
func (r *Result) Lines(ctx context.Context, fn func(marker int, line string) error) error {
	lr, err := r.Open()
	if err != nil {
		return err
	}
	defer lr.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		marker, line, err := lr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(marker, line); err != nil {
			return err
		}
	}
}

// Cleanup removes the temporary output.
func (r *Result) Cleanup() error {
	if r == nil || r.OutputPath == "" {
		return nil
	}
	err := os.Remove(r.OutputPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
