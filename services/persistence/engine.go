package persistence

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/utils"

	"golang.org/x/sync/errgroup"
)

type (
	Store interface {
		GetVariant(ctx context.Context, id string) (*indexes.Variant, error)
		CreateVariant(ctx context.Context, v *indexes.Variant) error
		UpdateVariant(ctx context.Context, v *indexes.Variant, expectedVersion int64) error
		BulkInsertVariants(ctx context.Context, variants []*indexes.Variant) ([]string, error)
		SaveVariantRunData(ctx context.Context, runs []*indexes.VariantRunData) ([]string, error)
	}

	// Item pairs a variant as the import sees it with the run genotypes
	// encoded against the variant's KnownAlleles.
	Item struct {
		Variant *indexes.Variant
		RunData *indexes.VariantRunData
	}

	UnsavedVariant struct {
		Id     string `json:"id"`
		Reason string `json:"reason"`
	}

	ChunkStats struct {
		Size     int
		Saved    int
		Unsaved  int
		Duration time.Duration
	}

	Options struct {
		// upper bound of chunk size x sample count
		RecordBudget int
		SampleCount  int
		BulkMode     bool
		MaxAttempts  int
		Workers      int
		Logger       *utils.Logger
		OnChunk      func(ChunkStats)
	}

	Summary struct {
		BulkMode   bool             `json:"bulkMode"`
		Submitted  int64            `json:"submitted"`
		Created    int64            `json:"created"`
		Updated    int64            `json:"updated"`
		Reindexed  int64            `json:"reindexed"`
		RunRecords int64            `json:"runRecords"`
		Chunks     int              `json:"chunks"`
		Unsaved    []UnsavedVariant `json:"unsaved,omitempty"`
	}

	// Engine batches submitted items into chunks and commits them, one chunk
	// in the background while the caller fills the next.
	Engine struct {
		store     Store
		opts      Options
		chunkSize int
		logger    *utils.Logger

		chunk   []Item
		pending chan error

		mu      sync.Mutex
		summary Summary
	}
)

func ChunkSize(recordBudget int, sampleCount int) int {
	if sampleCount < 1 {
		sampleCount = 1
	}
	size := recordBudget / sampleCount
	if size < 1 {
		size = 1
	}
	return size
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	size := ChunkSize(opts.RecordBudget, opts.SampleCount)
	return &Engine{
		store:     store,
		opts:      opts,
		chunkSize: size,
		logger:    opts.Logger.OrNop(),
		chunk:     make([]Item, 0, size),
		summary:   Summary{BulkMode: opts.BulkMode},
	}
}

func (e *Engine) ChunkSize() int { return e.chunkSize }

// Submit queues an item. A full chunk is handed to the background commit
// after the previous one finished, so Submit blocks while two chunks are
// outstanding.
func (e *Engine) Submit(ctx context.Context, item Item) error {
	if item.Variant == nil || item.RunData == nil {
		return errors.New("submit requires a variant and its run data")
	}
	e.chunk = append(e.chunk, item)
	e.mu.Lock()
	e.summary.Submitted++
	e.mu.Unlock()

	if len(e.chunk) >= e.chunkSize {
		return e.flush(ctx, true)
	}
	return nil
}

// Close flushes the partial chunk synchronously and returns the summary.
func (e *Engine) Close(ctx context.Context) (*Summary, error) {
	err := e.flush(ctx, false)

	e.mu.Lock()
	defer e.mu.Unlock()
	summary := e.summary
	summary.Unsaved = append([]UnsavedVariant(nil), e.summary.Unsaved...)
	return &summary, err
}

// Discard drops the partial chunk and waits for the in-flight commit.
func (e *Engine) Discard() error {
	e.chunk = e.chunk[:0]
	return e.join()
}

func (e *Engine) join() error {
	if e.pending == nil {
		return nil
	}
	err := <-e.pending
	e.pending = nil
	return err
}

func (e *Engine) flush(ctx context.Context, background bool) error {
	if err := e.join(); err != nil {
		return err
	}
	if len(e.chunk) == 0 {
		return nil
	}
	chunk := e.chunk
	e.chunk = make([]Item, 0, e.chunkSize)

	if !background {
		return e.commit(ctx, chunk)
	}
	done := make(chan error, 1)
	e.pending = done
	go func() {
		done <- e.commit(ctx, chunk)
	}()
	return nil
}

func (e *Engine) commit(ctx context.Context, chunk []Item) error {
	started := time.Now()
	var (
		stats ChunkStats
		err   error
	)
	if e.opts.BulkMode {
		stats, err = e.commitBulk(ctx, chunk)
	} else {
		stats, err = e.commitSafe(ctx, chunk)
	}
	if err != nil {
		return err
	}
	stats.Size = len(chunk)
	stats.Duration = time.Since(started)

	e.mu.Lock()
	e.summary.Chunks++
	e.mu.Unlock()
	e.logger.Debug("chunk committed", "size", stats.Size, "saved", stats.Saved, "unsaved", stats.Unsaved, "took", stats.Duration)
	if e.opts.OnChunk != nil {
		e.opts.OnChunk(stats)
	}
	return nil
}

func (e *Engine) recordUnsaved(id string, reason string) {
	e.mu.Lock()
	e.summary.Unsaved = append(e.summary.Unsaved, UnsavedVariant{Id: id, Reason: reason})
	e.mu.Unlock()
	e.logger.Warn("variant not saved", "variant", id, "reason", reason)
}

func (e *Engine) commitBulk(ctx context.Context, chunk []Item) (ChunkStats, error) {
	variants := make([]*indexes.Variant, len(chunk))
	runs := make([]*indexes.VariantRunData, len(chunk))
	for i, item := range chunk {
		variants[i] = item.Variant
		item.RunData.Snapshot(item.Variant)
		runs[i] = item.RunData
	}

	failedVariants, err := e.store.BulkInsertVariants(ctx, variants)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("bulk inserting variants: %w", err)
	}
	failed := map[string]bool{}
	for _, id := range failedVariants {
		failed[id] = true
		e.recordUnsaved(id, "bulk insert rejected")
	}

	kept := runs[:0]
	for _, r := range runs {
		if !failed[r.VariantId] {
			kept = append(kept, r)
		}
	}
	stats, err := e.saveRuns(ctx, kept)
	if err != nil {
		return ChunkStats{}, err
	}

	e.mu.Lock()
	e.summary.Created += int64(len(variants) - len(failedVariants))
	e.mu.Unlock()
	stats.Unsaved += len(failedVariants)
	return stats, nil
}

func (e *Engine) commitSafe(ctx context.Context, chunk []Item) (ChunkStats, error) {
	var (
		runsMu sync.Mutex
		runs   = make([]*indexes.VariantRunData, 0, len(chunk))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, item := range chunk {
		g.Go(func() error {
			run, err := e.saveVariant(gctx, item)
			if err != nil || run == nil {
				return err
			}
			runsMu.Lock()
			runs = append(runs, run)
			runsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ChunkStats{}, err
	}

	stats, err := e.saveRuns(ctx, runs)
	if err != nil {
		return ChunkStats{}, err
	}
	stats.Unsaved += len(chunk) - len(runs)
	return stats, nil
}

// saveVariant drives one variant through read, merge and conditional write,
// then aligns the run genotypes with the stored allele order. A nil run
// means the variant was recorded as unsaved.
func (e *Engine) saveVariant(ctx context.Context, item Item) (*indexes.VariantRunData, error) {
	local := item.Variant
	var current, next *indexes.Variant

	read := func(ctx context.Context) (int64, bool, error) {
		v, err := e.store.GetVariant(ctx, local.Id)
		if errors.Is(err, repositories.ErrNotFound) {
			current = nil
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("reading variant %s: %w", local.Id, err)
		}
		current = v
		return v.Version, true, nil
	}
	mutate := func(found bool) (bool, error) {
		if !found {
			next = local.Copy()
			return true, nil
		}
		merged, changed, err := MergeVariant(current, local)
		if err != nil {
			return false, err
		}
		next = merged
		return changed, nil
	}
	write := func(ctx context.Context, expectedVersion int64, found bool) error {
		if !found {
			return e.store.CreateVariant(ctx, next)
		}
		return e.store.UpdateVariant(ctx, next, expectedVersion)
	}

	outcome, attempts, err := WithOptimisticRetry(ctx, e.opts.MaxAttempts, read, mutate, write)
	switch outcome {
	case Conflict:
		e.recordUnsaved(local.Id, err.Error())
		return nil, nil
	case GivenUp:
		if err != nil {
			return nil, err
		}
		e.recordUnsaved(local.Id, fmt.Sprintf("version conflict persisted after %d attempts", attempts))
		return nil, nil
	}

	e.mu.Lock()
	if current == nil {
		e.summary.Created++
	} else if next != nil && next.Version != current.Version {
		e.summary.Updated++
	}
	e.mu.Unlock()

	canonical := next
	if canonical == nil {
		canonical = current
	}
	run := item.RunData
	if err := Reindex(run, local.KnownAlleles, canonical.KnownAlleles); err != nil {
		e.recordUnsaved(local.Id, fmt.Sprintf("re-indexing genotypes: %v", err))
		return nil, nil
	}
	if !alleles.SameOrder(local.KnownAlleles, canonical.KnownAlleles) {
		e.mu.Lock()
		e.summary.Reindexed++
		e.mu.Unlock()
	}
	run.Snapshot(canonical)
	return run, nil
}

func (e *Engine) saveRuns(ctx context.Context, runs []*indexes.VariantRunData) (ChunkStats, error) {
	if len(runs) == 0 {
		return ChunkStats{}, nil
	}
	failed, err := e.store.SaveVariantRunData(ctx, runs)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("writing run data: %w", err)
	}
	for _, id := range failed {
		e.recordUnsaved(id, "run data write rejected")
	}

	e.mu.Lock()
	e.summary.RunRecords += int64(len(runs) - len(failed))
	e.mu.Unlock()
	return ChunkStats{Saved: len(runs) - len(failed), Unsaved: len(failed)}, nil
}
