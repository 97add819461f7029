package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sourceFormat "gohan/genotypes/models/constants/source-format"
	"gohan/genotypes/models/ingest"
	"gohan/genotypes/services/orchestration"
	"gohan/genotypes/services/persistence"
	"gohan/genotypes/services/transposition"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImporter struct {
	result  *orchestration.ImportResult
	err     error
	release chan struct{}
}

func (f *fakeImporter) ImportFile(ctx context.Context, req orchestration.FileImportRequest) (*orchestration.ImportResult, error) {
	req.Progress.AddStep("importing genotypes")
	req.Progress.SetPercent(40)
	if f.release != nil {
		<-f.release
	}
	req.Progress.SetCount(12)
	return f.result, f.err
}

func fileRequest() orchestration.FileImportRequest {
	return orchestration.FileImportRequest{ProjectId: "p1", RunName: "r1", Format: sourceFormat.Tabular, Path: "/data/calls.tsv"}
}

func stateOf(svc *IngestionService, id string) ingest.State {
	r, err := svc.GetRequest(id)
	if err != nil {
		return ""
	}
	return r.State
}

func TestIngestionServiceRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should record a finished import with its summary", func(t *testing.T) {
		importer := &fakeImporter{result: &orchestration.ImportResult{
			VariantsSubmitted: 3,
			GenotypesStored:   6,
			ExcludedCalls:     1,
			SkippedMarkers:    []orchestration.SkippedMarker{{Id: "m9", Reason: "unknown variant"}},
			Zygosities:        map[string]int64{"HETEROZYGOUS": 2},
			Persistence: &persistence.Summary{
				Created: 2,
				Unsaved: []persistence.UnsavedVariant{{Id: "m3", Reason: "run data write rejected"}},
			},
		}}
		metrics := NewImportMetrics(nil)
		svc := NewIngestionService(importer, metrics, nil, 1, nil)

		queued := svc.NewRequest("calls.tsv", fileRequest())
		final := svc.Run(ctx, *queued, fileRequest())

		assert.Equal(t, ingest.Done, final.State)
		assert.Equal(t, 100, final.Percent)
		assert.Equal(t, int64(12), final.Count)
		assert.Equal(t, []string{"importing genotypes"}, final.Steps)
		require.NotNil(t, final.Summary)
		assert.Equal(t, int64(2), final.Summary.VariantsCreated)
		assert.Equal(t, []string{"m9"}, final.Summary.SkippedMarkers)
		assert.Equal(t, []string{"m3"}, final.Summary.UnsavedVariants)
		assert.Equal(t, 1, final.Summary.ExcludedCalls)

		assert.Eventually(t, func() bool { return stateOf(svc, queued.Id.String()) == ingest.Done }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Imports.WithLabelValues("tabular", "Done")))
		assert.Equal(t, 1, svc.Stats().Done)
	})

	t.Run("should record the failure message", func(t *testing.T) {
		svc := NewIngestionService(&fakeImporter{err: errors.New("ploidy mismatch")}, nil, nil, 1, nil)

		queued := svc.NewRequest("calls.tsv", fileRequest())
		final := svc.Run(ctx, *queued, fileRequest())

		assert.Equal(t, ingest.Error, final.State)
		assert.Equal(t, "ploidy mismatch", final.Message)
		assert.Nil(t, final.Summary)
		assert.Eventually(t, func() bool { return svc.Stats().Errored == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("should flag a file that is still being imported", func(t *testing.T) {
		importer := &fakeImporter{result: &orchestration.ImportResult{}, release: make(chan struct{})}
		svc := NewIngestionService(importer, nil, nil, 1, nil)

		queued := svc.Submit(ctx, "calls.tsv", fileRequest())
		assert.Eventually(t, func() bool { return stateOf(svc, queued.Id.String()) == ingest.Running }, time.Second, 5*time.Millisecond)
		assert.True(t, svc.FilenameAlreadyRunning("calls.tsv", "p1", "r1"))
		assert.False(t, svc.FilenameAlreadyRunning("calls.tsv", "p1", "r2"))

		close(importer.release)
		assert.Eventually(t, func() bool { return stateOf(svc, queued.Id.String()) == ingest.Done }, time.Second, 5*time.Millisecond)
		assert.False(t, svc.FilenameAlreadyRunning("calls.tsv", "p1", "r1"))
	})

	t.Run("should give up waiting for a slot when the context ends", func(t *testing.T) {
		importer := &fakeImporter{result: &orchestration.ImportResult{}, release: make(chan struct{})}
		defer close(importer.release)
		svc := NewIngestionService(importer, nil, nil, 1, nil)

		first := svc.Submit(ctx, "a.tsv", fileRequest())
		assert.Eventually(t, func() bool { return stateOf(svc, first.Id.String()) == ingest.Running }, time.Second, 5*time.Millisecond)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		queued := svc.NewRequest("b.tsv", fileRequest())
		final := svc.Run(cancelled, *queued, fileRequest())
		assert.Equal(t, ingest.Error, final.State)
		assert.Contains(t, final.Message, "context canceled")
	})
}

func TestIngestionServicePrune(t *testing.T) {
	svc := NewIngestionService(&fakeImporter{result: &orchestration.ImportResult{}}, nil, nil, 1, nil)
	queued := svc.NewRequest("calls.tsv", fileRequest())
	svc.Run(context.Background(), *queued, fileRequest())
	assert.Eventually(t, func() bool { return stateOf(svc, queued.Id.String()) == ingest.Done }, time.Second, 5*time.Millisecond)

	pending := svc.NewRequest("other.tsv", fileRequest())
	assert.Eventually(t, func() bool { return len(svc.GetRequests()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, svc.PruneFinished(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, svc.PruneFinished(time.Now().Add(time.Hour)))

	requests := svc.GetRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, pending.Id, requests[0].Id)
}

func TestImportMetrics(t *testing.T) {
	coordinator := transposition.NewCoordinator(transposition.CoordinatorOptions{MaxConcurrent: 1})
	metrics := NewImportMetrics(coordinator)

	metrics.ObserveChunk(persistence.ChunkStats{Size: 4, Saved: 3, Unsaved: 1, Duration: 20 * time.Millisecond})
	metrics.ObserveChunk(persistence.ChunkStats{Size: 2, Saved: 2})

	assert.Equal(t, int64(5), metrics.Saved())
	assert.Equal(t, int64(1), metrics.Unsaved())
	assert.Equal(t, int64(2), metrics.Chunks())
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.VariantsSaved))

	release, err := coordinator.Acquire()
	require.NoError(t, err)
	defer release()
	_, err = coordinator.Acquire()
	require.Error(t, err)
	assert.Equal(t, int64(1), metrics.RejectedTranspositions())

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gohan_genotypes_transpositions_rejected_total"])
	assert.True(t, names["gohan_genotypes_chunks_committed_total"])
}
