package transposition

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"gohan/genotypes/utils"
)

type (
	row struct {
		individual string
		// absolute byte offsets of the genotype payload, end exclusive
		start int64
		end   int64
		// set when every cell has the same width and single separators
		cellWidth int
	}

	layout struct {
		markers   []string
		rows      []row
		delimiter byte
		collapse  bool
		skipped   int
	}
)

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

func isComment(line []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("#"))
}

func detectDelimiter(header []byte) (byte, bool) {
	switch {
	case bytes.IndexByte(header, '\t') >= 0:
		return '\t', false
	case bytes.IndexByte(header, ',') >= 0:
		return ',', false
	case bytes.IndexByte(header, ';') >= 0:
		return ';', false
	default:
		return ' ', true
	}
}

func isDelimiter(b byte, delimiter byte, collapse bool) bool {
	if collapse {
		return b == ' ' || b == '\t'
	}
	return b == delimiter
}

func splitCells(line []byte, delimiter byte, collapse bool) []string {
	if collapse {
		fields := bytes.Fields(line)
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = string(f)
		}
		return out
	}
	parts := bytes.Split(line, []byte{delimiter})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(bytes.TrimSpace(p))
	}
	return out
}

func trimEOL(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

// prescan reads the file once. Blank and comment lines are ignored, the
// first remaining line is the marker header, every other line is a data row
// whose payload offset and cell geometry are recorded.
func prescan(ctx context.Context, path string, logger *utils.Logger) (*layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l := &layout{}
	reader := bufio.NewReaderSize(f, 1<<20)
	var (
		offset  int64
		header  []string
		lineNum int
	)

	for {
		raw, readErr := reader.ReadSlice('\n')
		if readErr == bufio.ErrBufferFull {
			// very wide rows; fall back to an allocated copy
			head := append([]byte(nil), raw...)
			rest, err := reader.ReadBytes('\n')
			raw = append(head, rest...)
			readErr = err
		}
		if len(raw) == 0 && readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, readErr
		}
		lineNum++
		lineStart := offset
		offset += int64(len(raw))
		line := trimEOL(raw)

		if lineNum%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		switch {
		case isBlank(line) || isComment(line):
		case header == nil:
			l.delimiter, l.collapse = detectDelimiter(line)
			header = splitCells(line, l.delimiter, l.collapse)
			if len(header) > 0 && header[0] == "" {
				header = header[1:]
			}
		default:
			r, cells, ok := l.scanRow(line, lineStart)
			if !ok {
				logger.Warn("skipping malformed matrix row", "line", lineNum)
				l.skipped++
				break
			}
			if len(l.rows) == 0 {
				if len(header) == cells+1 {
					// leading label above the individual column
					header = header[1:]
				}
				if len(header) != cells {
					return nil, fmt.Errorf("header lists %d markers but row %q has %d cells", len(header), r.individual, cells)
				}
			} else if cells != len(header) {
				logger.Warn("skipping matrix row with wrong cell count", "line", lineNum, "individual", r.individual, "cells", cells, "expected", len(header))
				l.skipped++
				break
			}
			l.rows = append(l.rows, r)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	if header == nil {
		return nil, fmt.Errorf("no marker header found in %s", path)
	}
	l.markers = header
	return l, nil
}

// scanRow locates the payload after the individual id and measures its
// cells in a single pass.
func (l *layout) scanRow(line []byte, lineStart int64) (row, int, bool) {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	idStart := i
	for i < len(line) && !isDelimiter(line[i], l.delimiter, l.collapse) {
		i++
	}
	if i == idStart || i >= len(line) {
		return row{}, 0, false
	}
	id := string(bytes.TrimSpace(line[idStart:i]))
	i++ // delimiter
	if l.collapse {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
	}
	payload := line[i:]
	if !l.collapse {
		// ignore trailing delimiter padding
		for len(payload) > 0 && (payload[len(payload)-1] == ' ') {
			payload = payload[:len(payload)-1]
		}
	} else {
		payload = bytes.TrimRight(payload, " \t")
	}

	r := row{individual: id, start: lineStart + int64(i), end: lineStart + int64(i) + int64(len(payload))}

	cells, width, uniform, singleSeparators := 0, -1, true, true
	cellLen := 0
	for j := 0; j <= len(payload); j++ {
		if j < len(payload) && !isDelimiter(payload[j], l.delimiter, l.collapse) {
			cellLen++
			continue
		}
		cells++
		if width == -1 {
			width = cellLen
		} else if width != cellLen {
			uniform = false
		}
		cellLen = 0
		if l.collapse && j < len(payload) {
			for j+1 < len(payload) && isDelimiter(payload[j+1], l.delimiter, l.collapse) {
				j++
				singleSeparators = false
			}
		}
	}
	if len(payload) == 0 && l.collapse {
		cells = 0
	}
	if uniform && singleSeparators && width > 0 {
		r.cellWidth = width
	}
	return r, cells, true
}
