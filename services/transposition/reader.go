package transposition

import (
	"io"
	"sort"
	"sync"
)

const readBufferSize = 64 << 10

// rowReader walks byte ranges of the input through one fixed-capacity
// buffer filled with ReadAt, so workers never allocate per row.
type rowReader struct {
	src      io.ReaderAt
	buf      []byte
	bufStart int64
	bufLen   int
	pos      int64
	end      int64
	cell     []byte
}

func newRowReader(src io.ReaderAt) *rowReader {
	return &rowReader{src: src, buf: make([]byte, readBufferSize), bufStart: -1, cell: make([]byte, 0, 64)}
}

func (r *rowReader) seek(pos int64, end int64) {
	r.pos = pos
	r.end = end
}

func (r *rowReader) offset() int64 { return r.pos }

func (r *rowReader) fill() error {
	want := int64(len(r.buf))
	if remaining := r.end - r.pos; remaining < want {
		want = remaining
	}
	n, err := r.src.ReadAt(r.buf[:want], r.pos)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	r.bufStart = r.pos
	r.bufLen = n
	return nil
}

func (r *rowReader) readByte() (byte, error) {
	if r.pos >= r.end {
		return 0, io.EOF
	}
	if r.bufStart < 0 || r.pos < r.bufStart || r.pos >= r.bufStart+int64(r.bufLen) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	b := r.buf[r.pos-r.bufStart]
	r.pos++
	return b, nil
}

// fixedCell reads width bytes at pos. The returned slice is reused.
func (r *rowReader) fixedCell(pos int64, width int) ([]byte, error) {
	r.pos = pos
	r.cell = r.cell[:0]
	for i := 0; i < width; i++ {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		r.cell = append(r.cell, b)
	}
	return r.cell, nil
}

// nextCell reads up to the next delimiter and leaves the reader on the
// first byte of the following cell. The returned slice is reused.
func (r *rowReader) nextCell(delimiter byte, collapse bool) ([]byte, error) {
	r.cell = r.cell[:0]
	if collapse {
		for r.pos < r.end {
			b, err := r.readByte()
			if err != nil {
				return nil, err
			}
			if b != ' ' && b != '\t' {
				r.pos--
				break
			}
		}
	}
	for {
		b, err := r.readByte()
		if err == io.EOF {
			return r.cell, nil
		}
		if err != nil {
			return nil, err
		}
		if isDelimiter(b, delimiter, collapse) {
			return r.cell, nil
		}
		r.cell = append(r.cell, b)
	}
}

// skipCells advances over n cells without copying them.
func (r *rowReader) skipCells(n int, delimiter byte, collapse bool) error {
	for i := 0; i < n; i++ {
		if _, err := r.nextCell(delimiter, collapse); err != nil {
			return err
		}
	}
	return nil
}

// checkpoints memoizes, for one irregular row, the offset at which a given
// cell starts so later blocks resume close to where they begin.
type checkpoints struct {
	mu      sync.Mutex
	cells   []int
	offsets []int64
}

func (c *checkpoints) nearest(cell int) (int, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := sort.SearchInts(c.cells, cell+1) - 1
	if i < 0 {
		return 0, 0, false
	}
	return c.cells[i], c.offsets[i], true
}

func (c *checkpoints) record(cell int, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := sort.SearchInts(c.cells, cell)
	if i < len(c.cells) && c.cells[i] == cell {
		return
	}
	c.cells = append(c.cells, 0)
	c.offsets = append(c.offsets, 0)
	copy(c.cells[i+1:], c.cells[i:])
	copy(c.offsets[i+1:], c.offsets[i:])
	c.cells[i] = cell
	c.offsets[i] = offset
}
