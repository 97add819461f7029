package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gohan/genotypes/models/dtos"
	"gohan/genotypes/models/ingest"
	"gohan/genotypes/services/orchestration"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/utils"

	"github.com/google/uuid"
)

type (
	// Importer runs one file import to completion.
	Importer interface {
		ImportFile(ctx context.Context, req orchestration.FileImportRequest) (*orchestration.ImportResult, error)
	}

	IngestionService struct {
		Initialized                  bool
		IngestRequestChan            chan *ingest.GenotypeIngestRequest
		IngestRequestMap             map[string]*ingest.GenotypeIngestRequest
		IngestRequestMapMux          sync.RWMutex
		ConcurrentFileIngestionQueue chan bool

		importer Importer
		metrics  *ImportMetrics
		sink     progress.Sink
		logger   *utils.Logger
	}
)

// NewIngestionService wires the request bookkeeping around an importer.
// sink receives every progress snapshot in addition to the request map and
// may be nil.
func NewIngestionService(importer Importer, metrics *ImportMetrics, sink progress.Sink, concurrency int, logger *utils.Logger) *IngestionService {
	if concurrency < 1 {
		concurrency = 1
	}
	iz := &IngestionService{
		Initialized:                  false,
		IngestRequestChan:            make(chan *ingest.GenotypeIngestRequest),
		IngestRequestMap:             map[string]*ingest.GenotypeIngestRequest{},
		ConcurrentFileIngestionQueue: make(chan bool, concurrency),
		importer:                     importer,
		metrics:                      metrics,
		sink:                         sink,
		logger:                       logger.OrNop().With("service", "IngestionService"),
	}
	iz.Init()
	return iz
}

func (i *IngestionService) Init() {
	if i.Initialized {
		return
	}

	// every request update goes through this listener; map values are
	// replaced, never mutated, so readers may hold on to them
	go func() {
		for req := range i.IngestRequestChan {
			if req.State == ingest.Queued {
				i.logger.Info("queueing genotype import", "id", req.Id, "file", req.Filename)
			}
			req.UpdatedAt = time.Now().String()
			i.IngestRequestMapMux.Lock()
			i.IngestRequestMap[req.Id.String()] = req
			i.IngestRequestMapMux.Unlock()
		}
	}()

	i.Initialized = true
}

// NewRequest registers a queued request for the given import.
func (i *IngestionService) NewRequest(filename string, req orchestration.FileImportRequest) *ingest.GenotypeIngestRequest {
	now := time.Now().String()
	r := ingest.GenotypeIngestRequest{
		Id:        uuid.New(),
		Filename:  filename,
		ProjectId: req.ProjectId,
		RunName:   req.RunName,
		Format:    req.Format,
		State:     ingest.Queued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	i.publish(r)
	return &r
}

// publish hands a copy of req to the listener.
func (i *IngestionService) publish(req ingest.GenotypeIngestRequest) {
	i.IngestRequestChan <- &req
}

// Submit queues the import and returns immediately.
func (i *IngestionService) Submit(ctx context.Context, filename string, req orchestration.FileImportRequest) *ingest.GenotypeIngestRequest {
	queued := i.NewRequest(filename, req)
	go i.Run(ctx, *queued, req)
	return queued
}

// Run waits for a free ingestion slot, runs the import and returns the
// terminal state of the request.
func (i *IngestionService) Run(ctx context.Context, queued ingest.GenotypeIngestRequest, req orchestration.FileImportRequest) *ingest.GenotypeIngestRequest {
	select {
	case i.ConcurrentFileIngestionQueue <- true:
	case <-ctx.Done():
		return i.finish(queued, nil, ctx.Err())
	}
	defer func() { <-i.ConcurrentFileIngestionQueue }()

	snapshots := progress.NewChannelSink(64)
	indicator := progress.NewIndicator(queued.Id.String(), progress.MultiSink{snapshots, i.sink})
	req.Progress = indicator

	running := queued
	running.State = ingest.Running
	i.publish(running)

	done := make(chan struct{})
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		i.track(running, snapshots, done)
	}()

	log := i.logger.With("id", queued.Id, "project", req.ProjectId, "run", req.RunName, "format", req.Format)
	log.Info("starting genotype import", "file", queued.Filename)
	started := time.Now()

	result, err := i.importer.ImportFile(ctx, req)

	close(done)
	<-tracked

	if err != nil {
		log.Error("genotype import failed", "error", err, "took", time.Since(started))
	} else {
		log.Info("genotype import finished", "variants", result.VariantsSubmitted, "genotypes", result.GenotypesStored, "took", time.Since(started))
	}

	final := running
	snap := indicator.Snapshot()
	final.Steps, final.Step, final.Percent, final.Count = snap.Steps, snap.Step, snap.Percent, snap.Count
	return i.finish(final, result, err)
}

func (i *IngestionService) track(base ingest.GenotypeIngestRequest, snapshots *progress.ChannelSink, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case snap := <-snapshots.C:
			update := base
			update.Steps = snap.Steps
			update.Step = snap.Step
			update.Percent = snap.Percent
			update.Count = snap.Count
			i.publish(update)
		}
	}
}

func (i *IngestionService) finish(req ingest.GenotypeIngestRequest, result *orchestration.ImportResult, err error) *ingest.GenotypeIngestRequest {
	if err != nil {
		req.State = ingest.Error
		req.Message = err.Error()
	} else {
		req.State = ingest.Done
		req.Message = "import complete"
		req.Percent = 100
	}
	if result != nil {
		req.Summary = Summarize(result)
	}
	if i.metrics != nil {
		i.metrics.Imports.WithLabelValues(string(req.Format), string(req.State)).Inc()
	}
	i.publish(req)
	return &req
}

// Summarize condenses an import result for the request listing.
func Summarize(result *orchestration.ImportResult) *ingest.ImportSummary {
	s := &ingest.ImportSummary{
		VariantsSubmitted: result.VariantsSubmitted,
		GenotypesStored:   result.GenotypesStored,
		SkippedMarkers:    make([]string, 0, len(result.SkippedMarkers)),
		UnsavedVariants:   []string{},
		ExcludedCalls:     int(result.ExcludedCalls),
		Zygosities:        result.Zygosities,
		BulkMode:          result.BulkMode,
		ReportLocation:    result.ReportLocation,
	}
	for _, m := range result.SkippedMarkers {
		s.SkippedMarkers = append(s.SkippedMarkers, m.Id)
	}
	if result.Persistence != nil {
		s.VariantsCreated = result.Persistence.Created
		for _, u := range result.Persistence.Unsaved {
			s.UnsavedVariants = append(s.UnsavedVariants, u.Id)
		}
	}
	return s
}

// FilenameAlreadyRunning reports whether a non-terminal request already
// targets the same file, project and run.
func (i *IngestionService) FilenameAlreadyRunning(filename string, projectId string, runName string) bool {
	i.IngestRequestMapMux.RLock()
	defer i.IngestRequestMapMux.RUnlock()
	for _, r := range i.IngestRequestMap {
		if r.Filename == filename && r.ProjectId == projectId && r.RunName == runName && !r.State.IsTerminal() {
			return true
		}
	}
	return false
}

// GetRequests lists every known request, oldest first.
func (i *IngestionService) GetRequests() []*ingest.GenotypeIngestRequest {
	i.IngestRequestMapMux.RLock()
	out := make([]*ingest.GenotypeIngestRequest, 0, len(i.IngestRequestMap))
	for _, r := range i.IngestRequestMap {
		out = append(out, r)
	}
	i.IngestRequestMapMux.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt != out[b].CreatedAt {
			return out[a].CreatedAt < out[b].CreatedAt
		}
		return out[a].Id.String() < out[b].Id.String()
	})
	return out
}

func (i *IngestionService) GetRequest(id string) (*ingest.GenotypeIngestRequest, error) {
	i.IngestRequestMapMux.RLock()
	defer i.IngestRequestMapMux.RUnlock()
	r, ok := i.IngestRequestMap[id]
	if !ok {
		return nil, fmt.Errorf("no ingestion request %s", id)
	}
	return r, nil
}

func (i *IngestionService) Stats() dtos.IngestionStatsResponseDTO {
	var stats dtos.IngestionStatsResponseDTO

	i.IngestRequestMapMux.RLock()
	for _, r := range i.IngestRequestMap {
		switch r.State {
		case ingest.Queued:
			stats.Queued++
		case ingest.Running:
			stats.Running++
		case ingest.Done:
			stats.Done++
		case ingest.Error:
			stats.Errored++
		}
	}
	i.IngestRequestMapMux.RUnlock()

	if i.metrics != nil {
		stats.VariantsSaved = i.metrics.Saved()
		stats.VariantsUnsaved = i.metrics.Unsaved()
		stats.ChunksCommitted = i.metrics.Chunks()
		stats.RejectedMatrixLoads = i.metrics.RejectedTranspositions()
	}
	return stats
}

// PruneFinished drops terminal requests last updated before cutoff and
// returns how many were removed.
func (i *IngestionService) PruneFinished(cutoff time.Time) int {
	i.IngestRequestMapMux.Lock()
	defer i.IngestRequestMapMux.Unlock()

	pruned := 0
	for id, r := range i.IngestRequestMap {
		if !r.State.IsTerminal() {
			continue
		}
		updated, err := parseTimestamp(r.UpdatedAt)
		if err == nil && updated.Before(cutoff) {
			delete(i.IngestRequestMap, id)
			pruned++
		}
	}
	return pruned
}

// time.Time.String output, monotonic clock reading stripped
func parseTimestamp(s string) (time.Time, error) {
	if idx := strings.Index(s, " m="); idx >= 0 {
		s = s[:idx]
	}
	return time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s)
}
