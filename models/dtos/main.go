package dtos

import (
	"time"

	"gohan/genotypes/models/ingest"
)

type GeneralError struct {
	Message string `json:"message"`
}

type GeneralErrorResponseDto struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Errors    []GeneralError `json:"errors"`
}

type IngestionRequestsResponseDTO struct {
	Status  int                             `json:"status"`
	Message string                          `json:"message"`
	Results []*ingest.GenotypeIngestRequest `json:"results"`
}

type IngestionStatsResponseDTO struct {
	Running             int   `json:"running"`
	Queued              int   `json:"queued"`
	Done                int   `json:"done"`
	Errored             int   `json:"errored"`
	VariantsSaved       int64 `json:"variantsSaved"`
	VariantsUnsaved     int64 `json:"variantsUnsaved"`
	ChunksCommitted     int64 `json:"chunksCommitted"`
	RejectedMatrixLoads int64 `json:"rejectedMatrixLoads"`
}
