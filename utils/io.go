package utils

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gohan/genotypes/models"

	"github.com/biogo/hts/bgzf"
	yaml "gopkg.in/yaml.v2"
)

var gzipMagic = []byte{0x1f, 0x8b}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenInput opens a plain, gzip or bgzip file and returns a reader over its
// decompressed content.
func OpenInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	head := make([]byte, 2)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	if n < 2 || head[0] != gzipMagic[0] || head[1] != gzipMagic[1] {
		return f, nil
	}

	// bgzip first (block-gzipped VCFs, as tabix expects), plain gzip otherwise
	if bgr, bgErr := bgzf.NewReader(f, 1); bgErr == nil {
		return &multiCloser{Reader: bgr, closers: []io.Closer{f, bgr}}, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &multiCloser{Reader: gr, closers: []io.Closer{f, gr}}, nil
}

// EnsurePlainFile returns a path to an uncompressed copy of the input,
// inflating into tmpDir when needed. cleanup removes what was created.
func EnsurePlainFile(path string, tmpDir string) (string, func(), error) {
	noop := func() {}

	r, err := OpenInput(path)
	if err != nil {
		return "", noop, err
	}
	defer r.Close()

	if f, ok := r.(*os.File); ok && f.Name() == path {
		return path, noop, nil
	}

	out, err := os.CreateTemp(tmpDir, "gt-inflated-*"+filepath.Ext(filepath.Base(path)))
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.Remove(out.Name()) }

	w := bufio.NewWriterSize(out, 1<<20)
	if _, err := io.Copy(w, r); err != nil {
		out.Close()
		cleanup()
		return "", noop, fmt.Errorf("inflating %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		cleanup()
		return "", noop, err
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return out.Name(), cleanup, nil
}

func LoadConfigFile(path string) (*models.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg models.Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
