package orchestration

import (
	"context"
	"errors"
	"fmt"

	c "gohan/genotypes/models/constants"
	sourceFormat "gohan/genotypes/models/constants/source-format"
	"gohan/genotypes/services/progress"
)

// FileImportRequest names an input by path (or by url for remote sources)
// instead of an already opened RecordSource.
type FileImportRequest struct {
	ProjectId string
	RunName   string
	Mode      c.ImportMode
	Format    c.SourceFormat
	Path      string
	Tabular   TabularLayout
	Remote    RemoteOptions
	Progress  *progress.Indicator
}

// ImportFile opens the adapter matching the request's format and imports
// its records. Matrices are transposed first.
func (o *Orchestrator) ImportFile(ctx context.Context, req FileImportRequest) (*ImportResult, error) {
	importReq := ImportRequest{
		ProjectId: req.ProjectId,
		RunName:   req.RunName,
		Mode:      req.Mode,
		Format:    req.Format,
		Progress:  req.Progress,
	}
	skippedRows, err := o.openSource(ctx, req, &importReq)
	if err != nil {
		if req.Progress != nil {
			req.Progress.SetError(err.Error())
		}
		return nil, err
	}

	result, err := o.Import(ctx, importReq)
	if result != nil {
		result.SkippedRows += int64(skippedRows)
	}
	return result, err
}

func (o *Orchestrator) openSource(ctx context.Context, req FileImportRequest, importReq *ImportRequest) (int, error) {
	switch req.Format {
	case sourceFormat.Matrix:
		if o.transposer == nil {
			return 0, errors.New("matrix imports are not configured")
		}
		beginStep(req.Progress, "transposing matrix")
		result, err := o.transposer.Transpose(ctx, req.Path, req.Progress)
		if err != nil {
			return 0, err
		}
		src, err := NewMatrixSource(result)
		if err != nil {
			result.Cleanup()
			return 0, err
		}
		importReq.Source = src
		return result.SkippedRows, nil

	case sourceFormat.Tabular:
		beginStep(req.Progress, "reading calls")
		src, err := NewTabularSource(ctx, req.Path, req.Tabular)
		if err != nil {
			return 0, err
		}
		importReq.Source, importReq.Calls = src, src
		return 0, nil

	case sourceFormat.Vcf:
		src, err := NewVcfSource(req.Path)
		if err != nil {
			return 0, err
		}
		importReq.Source = src
		return 0, nil

	case sourceFormat.Remote:
		opts := req.Remote
		if opts.Url == "" {
			opts.Url = req.Path
		}
		src, err := NewRemoteSource(opts, o.logger)
		if err != nil {
			return 0, err
		}
		importReq.Source, importReq.Calls = src, src
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported source format %q", req.Format)
}
