package genotypes

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gohan/genotypes/contexts"
	sourceFormat "gohan/genotypes/models/constants/source-format"
	"gohan/genotypes/models/dtos"
	e "gohan/genotypes/models/dtos/errors"
	"gohan/genotypes/models/ingest"
	"gohan/genotypes/services/orchestration"

	"github.com/labstack/echo"
)

// GenotypesIngest queues one import per requested file (or the remote url).
func GenotypesIngest(c echo.Context) error {
	gc := c.(*contexts.GohanContext)
	cfg := gc.Config
	ingestionService := gc.IngestionService

	var inputs []string
	if gc.Format == sourceFormat.Remote {
		url := c.QueryParam("url")
		if url == "" {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest("Missing 'url' query parameter"))
		}
		inputs = []string{url}
	} else {
		for _, fileName := range strings.Split(c.QueryParam("fileNames"), ",") {
			fileName = strings.TrimSpace(fileName)
			if fileName == "" {
				return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest("Missing 'fileNames' query parameter"))
			}
			inputs = append(inputs, fileName)
		}
	}

	layout := orchestration.TabularLayout{MissingToken: cfg.Import.MissingDataToken}
	if d := c.QueryParam("delimiter"); d != "" {
		if d == `\t` {
			d = "\t"
		}
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(fmt.Sprintf("Invalid delimiter %q", d)))
		}
		layout.Delimiter = r
	}

	responseDtos := []ingest.IngestResponseDTO{}
	for _, input := range inputs {
		path := input
		if gc.Format != sourceFormat.Remote {
			resolved, err := resolveDataFile(cfg.Api.DataPath, input)
			if err != nil {
				gc.Log.OrNop().Warn("rejecting import file", "file", input, "error", err)
				responseDtos = append(responseDtos, ingest.IngestResponseDTO{
					Filename: input,
					State:    ingest.Error,
					Message:  err.Error(),
				})
				continue
			}
			path = resolved
		}

		if ingestionService.FilenameAlreadyRunning(input, gc.ProjectId, gc.RunName) {
			responseDtos = append(responseDtos, ingest.IngestResponseDTO{
				Filename: input,
				State:    ingest.Error,
				Message:  "File already being ingested..",
			})
			continue
		}

		req := orchestration.FileImportRequest{
			ProjectId: gc.ProjectId,
			RunName:   gc.RunName,
			Mode:      gc.ImportMode,
			Format:    gc.Format,
			Path:      path,
			Tabular:   layout,
		}
		// the import outlives the http request
		queued := ingestionService.Submit(context.Background(), input, req)
		gc.Log.OrNop().Info("queued import", "id", queued.Id, "file", input, "project", gc.ProjectId, "run", gc.RunName)
		responseDtos = append(responseDtos, ingest.IngestResponseDTO{
			Id:       queued.Id,
			Filename: queued.Filename,
			State:    queued.State,
			Message:  "Successfully queued..",
		})
	}

	return c.JSON(http.StatusOK, responseDtos)
}

// resolveDataFile keeps requested files inside the data directory.
func resolveDataFile(dataPath string, fileName string) (string, error) {
	root, err := filepath.Abs(dataPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.Clean("/"+fileName))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("file %s is outside the data directory", fileName)
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("file %s not found", fileName)
	}
	return full, nil
}

func GetAllGenotypeIngestionRequests(c echo.Context) error {
	requests := c.(*contexts.GohanContext).IngestionService.GetRequests()
	return c.JSON(http.StatusOK, dtos.IngestionRequestsResponseDTO{
		Status:  http.StatusOK,
		Message: fmt.Sprintf("%d requests", len(requests)),
		Results: requests,
	})
}

func GetGenotypeIngestionRequest(c echo.Context) error {
	req, err := c.(*contexts.GohanContext).IngestionService.GetRequest(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, e.CreateSimpleNotFound(err.Error()))
	}
	return c.JSON(http.StatusOK, req)
}

func GenotypesIngestionStats(c echo.Context) error {
	return c.JSON(http.StatusOK, c.(*contexts.GohanContext).IngestionService.Stats())
}
