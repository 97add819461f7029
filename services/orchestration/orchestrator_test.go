package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	importMode "gohan/genotypes/models/constants/import-mode"
	"gohan/genotypes/models/constants/ploidy"
	sourceFormat "gohan/genotypes/models/constants/source-format"
	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories/memory"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/services/reports"
	"gohan/genotypes/services/transposition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	records []*Record
	closed  bool
}

func (s *sliceSource) Next(ctx context.Context) (*Record, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func newTestOrchestrator(t *testing.T, store Store, opts Options) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	transposer := transposition.NewTransposer(
		transposition.NewCoordinator(transposition.CoordinatorOptions{MaxConcurrent: 1, Workers: 2}), dir, "", nil)
	if opts.ChunkRecordBudget == 0 {
		opts.ChunkRecordBudget = 1000
	}
	return NewOrchestrator(store, &reports.FileSink{Dir: filepath.Join(dir, "reports")}, transposer, opts, nil)
}

func writeInput(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func codes(t *testing.T, store *memory.Store, variantId string) map[int]string {
	t.Helper()
	run, err := store.GetVariantRunData(context.Background(), "p1", "r1", variantId)
	require.NoError(t, err)
	out := map[int]string{}
	for sampleId, g := range run.Samples {
		out[sampleId] = g.Code
	}
	return out
}

func TestImportMatrix(t *testing.T) {
	ctx := context.Background()
	matrix := "\tm1\tm2\n" +
		"I1\tAA\tAG\n" +
		"I2\tAG\tGG\n"

	t.Run("should import a two by two matrix end to end", func(t *testing.T) {
		store := memory.NewStore()
		o := newTestOrchestrator(t, store, Options{})
		indicator := progress.NewIndicator("import", nil)

		result, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Matrix,
			Path:      writeInput(t, "matrix.txt", matrix),
			Progress:  indicator,
		})
		require.NoError(t, err)

		assert.True(t, result.BulkMode)
		assert.Equal(t, ploidy.Diploid, result.Ploidy)
		assert.EqualValues(t, 2, result.VariantsSubmitted)
		assert.EqualValues(t, 4, result.GenotypesStored)
		assert.Equal(t, 2, result.SamplesCreated)
		assert.True(t, indicator.IsComplete())

		for _, id := range []string{"m1", "m2"} {
			v, err := store.GetVariant(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "G"}, v.KnownAlleles)
		}
		assert.Equal(t, map[int]string{1: "0/0", 2: "0/1"}, codes(t, store, "m1"))
		assert.Equal(t, map[int]string{1: "0/1", 2: "1/1"}, codes(t, store, "m2"))

		project, err := store.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, project.Runs)
		assert.Equal(t, ploidy.Diploid, project.Ploidy)
		assert.Equal(t, []int{2}, project.AlleleCounts)

		var zygosities int64
		for _, n := range result.Zygosities {
			zygosities += n
		}
		assert.EqualValues(t, 4, zygosities)
		assert.EqualValues(t, 2, result.Zygosities["HETEROZYGOUS"])
		assert.EqualValues(t, 1, result.Zygosities["HOMOZYGOUS_ALTERNATE"])
	})

	t.Run("should replace the records of a re-imported run", func(t *testing.T) {
		store := memory.NewStore()
		o := newTestOrchestrator(t, store, Options{})
		req := FileImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Replace, Format: sourceFormat.Matrix, Path: writeInput(t, "matrix.txt", matrix)}

		_, err := o.ImportFile(ctx, req)
		require.NoError(t, err)
		result, err := o.ImportFile(ctx, req)
		require.NoError(t, err)

		assert.EqualValues(t, 2, result.DeletedRunRecords)
		assert.False(t, result.BulkMode)
		assert.Equal(t, 0, result.SamplesCreated)
		assert.Equal(t, map[int]string{1: "0/0", 2: "0/1"}, codes(t, store, "m1"))
	})
}

func TestImportPloidy(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse to append another ploidy before writing anything", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateProject(ctx, &indexes.Project{Id: "p1", Runs: []string{"r0"}, Ploidy: ploidy.Diploid}))
		writes := store.Writes()

		src := &sliceSource{records: []*Record{{
			MarkerId: "m1",
			Calls: []Call{
				{IndividualId: "I1"},
				{IndividualId: "I2", Alleles: []string{"A"}},
			},
		}}}
		o := newTestOrchestrator(t, store, Options{})
		indicator := progress.NewIndicator("import", nil)
		_, err := o.Import(ctx, ImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Append, Source: src, Progress: indicator})

		var mismatch *PloidyMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, ploidy.Diploid, mismatch.Expected)
		assert.Equal(t, ploidy.Haploid, mismatch.Found)
		assert.Equal(t, writes, store.Writes())
		assert.True(t, src.closed)
		assert.True(t, indicator.IsAborted())
		assert.NotEmpty(t, indicator.Error())
	})

	t.Run("should accept another ploidy when replacing", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateProject(ctx, &indexes.Project{Id: "p1", Ploidy: ploidy.Diploid}))

		src := &sliceSource{records: []*Record{{
			MarkerId: "m1",
			Calls:    []Call{{IndividualId: "I1", Alleles: []string{"T"}}},
		}}}
		o := newTestOrchestrator(t, store, Options{})
		result, err := o.Import(ctx, ImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Replace, Source: src})
		require.NoError(t, err)
		assert.Equal(t, ploidy.Haploid, result.Ploidy)

		project, err := store.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, ploidy.Haploid, project.Ploidy)
	})

	t.Run("should skip calls of another ploidy within the run", func(t *testing.T) {
		store := memory.NewStore()
		src := &sliceSource{records: []*Record{{
			MarkerId: "m1",
			Calls: []Call{
				{IndividualId: "I1", Alleles: []string{"A", "C"}},
				{IndividualId: "I2", Alleles: []string{"A", "C", "C"}},
			},
		}}}
		o := newTestOrchestrator(t, store, Options{})
		result, err := o.Import(ctx, ImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Append, Source: src})
		require.NoError(t, err)
		assert.EqualValues(t, 1, result.SkippedCalls)
		assert.Equal(t, map[int]string{1: "0/1"}, codes(t, store, "m1"))
	})
}

func TestImportIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("should skip unknown, deprecated and duplicate markers on a populated store", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "v1", KnownAlleles: []string{"A", "G"}, Synonyms: map[string][]string{"chip": {"rs1"}}}))
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "$old", KnownAlleles: []string{"C"}, Synonyms: map[string][]string{"chip": {"old"}}}))

		call := func(a ...string) []Call { return []Call{{IndividualId: "I1", Alleles: a}} }
		src := &sliceSource{records: []*Record{
			{MarkerId: "rs1", Calls: call("G", "G")},
			{MarkerId: "v1", Calls: call("A", "A")},
			{MarkerId: "old", Calls: call("C", "C")},
			{MarkerId: "new", Calls: call("T", "T")},
		}}
		o := newTestOrchestrator(t, store, Options{})
		result, err := o.Import(ctx, ImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Append, Source: src})
		require.NoError(t, err)

		assert.False(t, result.BulkMode)
		assert.EqualValues(t, 1, result.VariantsSubmitted)
		require.Len(t, result.SkippedMarkers, 3)
		assert.Equal(t, "v1", result.SkippedMarkers[0].Id)
		assert.Equal(t, "old", result.SkippedMarkers[1].Id)
		assert.Equal(t, SkippedMarker{Id: "new", Reason: "unknown variant"}, result.SkippedMarkers[2])
		assert.Equal(t, map[int]string{1: "1/1"}, codes(t, store, "v1"))
	})

	t.Run("should create unknown markers when allowed", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "v1", KnownAlleles: []string{"A"}}))

		src := &sliceSource{records: []*Record{{
			MarkerId: "new",
			Synonyms: []string{"alias"},
			Sequence: "chr1",
			Position: 42,
			Calls:    []Call{{IndividualId: "I1", Alleles: []string{"T", "C"}}},
		}}}
		o := newTestOrchestrator(t, store, Options{AllowUnknownVariants: true})
		_, err := o.Import(ctx, ImportRequest{ProjectId: "p1", RunName: "r1", Mode: importMode.Append, Format: sourceFormat.Tabular, Source: src})
		require.NoError(t, err)

		v, err := store.GetVariant(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, []string{"T", "C"}, v.KnownAlleles)
		assert.Equal(t, map[string][]string{"tabular": {"alias"}}, v.Synonyms)
		assert.Equal(t, &indexes.ReferencePosition{Sequence: "chr1", Start: 42, End: 42}, v.ReferencePosition)
	})
}

func TestImportVcf(t *testing.T) {
	ctx := context.Background()
	vcf := "##fileformat=VCFv4.2\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\tS2\n" +
		"1\t100\tm1\tG\tA\t.\t.\t.\tGT:AD:DP:PL:FT\t0/0:5,7:12:0,30,300:PASS\t./.:.:.:.:.\n" +
		"1\t200\t.\tC\tT\t.\t.\t.\tGT\t0|1\t1|1\n"

	store := memory.NewStore()
	require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{Id: "m1", KnownAlleles: []string{"A", "G"}}))

	o := newTestOrchestrator(t, store, Options{})
	result, err := o.ImportFile(ctx, FileImportRequest{
		ProjectId: "p1",
		RunName:   "r1",
		Mode:      importMode.Append,
		Format:    sourceFormat.Vcf,
		Path:      writeInput(t, "calls.vcf", vcf),
	})
	require.NoError(t, err)

	t.Run("should remap depths and likelihoods to the stored allele order", func(t *testing.T) {
		run, err := store.GetVariantRunData(ctx, "p1", "r1", "m1")
		require.NoError(t, err)
		require.Len(t, run.Samples, 1)

		g := run.Samples[1]
		assert.Equal(t, "1/1", g.Code)
		require.NotNil(t, g.Annotations)
		assert.Equal(t, []int{7, 5}, g.Annotations.AlleleDepths)
		assert.Equal(t, []int{300, 30, 0}, g.Annotations.PhredLikelihoods)
		require.NotNil(t, g.Annotations.Depth)
		assert.Equal(t, 12, *g.Annotations.Depth)
		assert.Equal(t, map[string]string{"FT": "PASS"}, g.Annotations.Extras)
	})

	t.Run("should fill the stored position", func(t *testing.T) {
		v, err := store.GetVariant(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, &indexes.ReferencePosition{Sequence: "1", Start: 100, End: 100}, v.ReferencePosition)
		assert.Equal(t, []string{"A", "G"}, v.KnownAlleles)
	})

	t.Run("should skip the unknown marker", func(t *testing.T) {
		assert.Equal(t, []SkippedMarker{{Id: "1_200", Reason: "unknown variant"}}, result.SkippedMarkers)
	})
}

func TestImportTabular(t *testing.T) {
	ctx := context.Background()
	calls := "marker\tindividual\tgenotype\n" +
		"syn1\tI1\tA/G\n" +
		"syn2\tI1\tGG\n" +
		"syn1\tI2\tAA\n" +
		"syn2\tI2\tA/A\n" +
		"syn1\n" +
		"v2\tI1\tC/C\n"

	store := memory.NewStore()
	require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{
		Id:           "v1",
		KnownAlleles: []string{"A", "G"},
		Synonyms:     map[string][]string{"chip": {"syn1", "syn2"}},
	}))

	o := newTestOrchestrator(t, store, Options{})
	result, err := o.ImportFile(ctx, FileImportRequest{
		ProjectId: "p1",
		RunName:   "r1",
		Mode:      importMode.Append,
		Format:    sourceFormat.Tabular,
		Path:      writeInput(t, "calls.tsv", calls),
	})
	require.NoError(t, err)

	t.Run("should exclude calls that disagree across synonyms", func(t *testing.T) {
		assert.EqualValues(t, 2, result.ExcludedCalls)
		assert.Equal(t, map[int]string{1: "0/0"}, codes(t, store, "v1"))
	})

	t.Run("should save the inconsistency report", func(t *testing.T) {
		require.NotEmpty(t, result.ReportLocation)
		body, err := os.ReadFile(result.ReportLocation)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(body), "v1\tI1\t"))
	})

	t.Run("should report skipped rows and markers", func(t *testing.T) {
		assert.EqualValues(t, 1, result.SkippedRows)
		assert.Equal(t, []SkippedMarker{
			{Id: "v2", Reason: "unknown variant"},
		}, result.SkippedMarkers)
	})
}

func TestImportTabularGrouping(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep calls reported under a second synonym only", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{
			Id:           "v1",
			KnownAlleles: []string{"A", "G"},
			Synonyms:     map[string][]string{"chip": {"syn1", "syn2"}},
		}))

		o := newTestOrchestrator(t, store, Options{})
		result, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Tabular,
			Path:      writeInput(t, "calls.tsv", "marker\tindividual\tgenotype\nsyn1\tI1\tA/G\nsyn2\tI2\tG/G\n"),
		})
		require.NoError(t, err)

		assert.Empty(t, result.SkippedMarkers)
		assert.EqualValues(t, 1, result.VariantsSubmitted)
		assert.EqualValues(t, 2, result.GenotypesStored)
		assert.Equal(t, map[int]string{1: "0/1", 2: "1/1"}, codes(t, store, "v1"))
	})

	t.Run("should resolve a row by its position alone", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateVariant(ctx, &indexes.Variant{
			Id:                "v9",
			Type:              variantType.SNP,
			KnownAlleles:      []string{"A", "G"},
			ReferencePosition: &indexes.ReferencePosition{Sequence: "1", Start: 100, End: 100},
		}))

		o := newTestOrchestrator(t, store, Options{UsePositionalMatching: true})
		result, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Tabular,
			Path:      writeInput(t, "calls.tsv", "marker\tindividual\tgenotype\tchrom\tpos\nchip_1\tI1\tA/G\t1\t100\n"),
		})
		require.NoError(t, err)

		assert.Empty(t, result.SkippedMarkers)
		assert.Equal(t, map[int]string{1: "0/1"}, codes(t, store, "v9"))
	})

	t.Run("should merge a marker reappearing later in a remote stream", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"page":0,"pageSize":3,"totalPages":1,"data":[
				{"variantId":"m1","individualId":"I1","genotype":"A/G"},
				{"variantId":"m2","individualId":"I1","genotype":"T/T"},
				{"variantId":"m1","individualId":"I2","genotype":"G/G"}]}`)
		}))
		defer srv.Close()

		store := memory.NewStore()
		o := newTestOrchestrator(t, store, Options{})
		result, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Remote,
			Remote:    RemoteOptions{Url: srv.URL, PageSize: 3, RetryInterval: time.Millisecond},
		})
		require.NoError(t, err)

		assert.Empty(t, result.SkippedMarkers)
		assert.EqualValues(t, 2, result.VariantsSubmitted)
		assert.Equal(t, map[int]string{1: "0/1", 2: "1/1"}, codes(t, store, "m1"))
	})
}

func TestImportRemote(t *testing.T) {
	ctx := context.Background()
	pages := []string{
		`{"page":0,"pageSize":2,"totalPages":2,"data":[
			{"variantId":"m1","individualId":"I1","genotype":"A/G","sequence":"2","position":10},
			{"variantId":"m1","individualId":"I2","genotype":"G/G","sequence":"2","position":10}]}`,
		`{"page":1,"pageSize":2,"totalPages":2,"data":[
			{"variantId":"m2","individualId":"I1","genotype":"T/T"}]}`,
	}

	t.Run("should page through the source and retry server errors", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			var page int
			fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
			fmt.Fprint(w, pages[page])
		}))
		defer srv.Close()

		store := memory.NewStore()
		o := newTestOrchestrator(t, store, Options{})
		result, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Remote,
			Remote:    RemoteOptions{Url: srv.URL + "/genotypes", PageSize: 2, RetryInterval: time.Millisecond},
		})
		require.NoError(t, err)

		assert.EqualValues(t, 2, result.VariantsSubmitted)
		assert.Equal(t, map[int]string{1: "0/1", 2: "1/1"}, codes(t, store, "m1"))
		assert.Equal(t, map[int]string{1: "0/0"}, codes(t, store, "m2"))
	})

	t.Run("should fail on client errors without retrying", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		o := newTestOrchestrator(t, memory.NewStore(), Options{})
		_, err := o.ImportFile(ctx, FileImportRequest{
			ProjectId: "p1",
			RunName:   "r1",
			Mode:      importMode.Append,
			Format:    sourceFormat.Remote,
			Path:      srv.URL,
			Remote:    RemoteOptions{RetryInterval: time.Millisecond},
		})

		var remoteErr *RemoteSourceError
		require.True(t, errors.As(err, &remoteErr))
		assert.Equal(t, http.StatusNotFound, remoteErr.Status)
		assert.EqualValues(t, 1, requests.Load())
	})
}

func TestImportValidation(t *testing.T) {
	o := newTestOrchestrator(t, memory.NewStore(), Options{})
	src := &sliceSource{}
	_, err := o.Import(context.Background(), ImportRequest{ProjectId: "bad\tproject", RunName: "r1", Mode: importMode.Append, Source: src})
	assert.Error(t, err)
	assert.True(t, src.closed)
}
