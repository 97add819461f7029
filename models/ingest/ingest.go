package ingest

import (
	"gohan/genotypes/models/constants"

	"github.com/google/uuid"
)

type State string

const (
	Queued  State = "Queued"
	Running State = "Running"
	Done    State = "Done"
	Error   State = "Error"
)

func (s State) IsTerminal() bool {
	return s == Done || s == Error
}

type GenotypeIngestRequest struct {
	Id        uuid.UUID              `json:"id"`
	Filename  string                 `json:"filename"`
	ProjectId string                 `json:"projectId"`
	RunName   string                 `json:"runName"`
	Format    constants.SourceFormat `json:"format"`
	State     State                  `json:"state"`
	Message   string                 `json:"message"`
	Steps     []string               `json:"steps"`
	Step      int                    `json:"step"`
	Percent   int                    `json:"percent"`
	Count     int64                  `json:"count"`
	Summary   *ImportSummary         `json:"summary,omitempty"`
	CreatedAt string                 `json:"createdAt"`
	UpdatedAt string                 `json:"updatedAt"`
}

// ImportSummary is attached to a request once its import reached a terminal state.
type ImportSummary struct {
	VariantsSubmitted int64            `json:"variantsSubmitted"`
	VariantsCreated   int64            `json:"variantsCreated"`
	GenotypesStored   int64            `json:"genotypesStored"`
	SkippedMarkers    []string         `json:"skippedMarkers"`
	UnsavedVariants   []string         `json:"unsavedVariants"`
	ExcludedCalls     int              `json:"excludedCalls"`
	Zygosities        map[string]int64 `json:"zygosities"`
	BulkMode          bool             `json:"bulkMode"`
	ReportLocation    string           `json:"reportLocation,omitempty"`
}

type IngestResponseDTO struct {
	Id       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	State    State     `json:"state"`
	Message  string    `json:"message"`
}
