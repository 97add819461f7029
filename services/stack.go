package services

import (
	"context"
	"fmt"
	"runtime"

	"gohan/genotypes/models"
	"gohan/genotypes/services/orchestration"
	"gohan/genotypes/services/reports"
	"gohan/genotypes/services/transposition"
	"gohan/genotypes/utils"
)

// ImportStack holds the process-wide import components built from config.
type ImportStack struct {
	Coordinator  *transposition.Coordinator
	Transposer   *transposition.Transposer
	Reports      reports.Sink
	Metrics      *ImportMetrics
	Orchestrator *orchestration.Orchestrator
}

func NewImportStack(ctx context.Context, cfg *models.Config, store orchestration.Store, logger *utils.Logger) (*ImportStack, error) {
	workers := cfg.Import.TransposeWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	coordinator := transposition.NewCoordinator(transposition.CoordinatorOptions{
		MaxConcurrent: cfg.Import.MaxConcurrentMatrices,
		Workers:       workers,
		MemoryMiB:     cfg.Import.TransposeMemoryMiB,
		BlockSize:     cfg.Import.TransposeBlockSize,
	})
	transposer := transposition.NewTransposer(coordinator, cfg.Api.TmpPath, cfg.Import.MissingDataToken, logger)

	reportSink, err := reports.NewSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring report sink: %w", err)
	}

	metrics := NewImportMetrics(coordinator)
	orchestrator := orchestration.NewOrchestrator(store, reportSink, transposer, orchestration.Options{
		AllowUnknownVariants:  cfg.Import.AllowUnknownVariants,
		UsePositionalMatching: cfg.Import.UsePositionalMatching,
		ChunkRecordBudget:     cfg.Import.ChunkRecordBudget,
		OnChunk:               metrics.ObserveChunk,
	}, logger)

	return &ImportStack{
		Coordinator:  coordinator,
		Transposer:   transposer,
		Reports:      reportSink,
		Metrics:      metrics,
		Orchestrator: orchestrator,
	}, nil
}
