package middleware

import (
	"fmt"
	"net/http"

	"gohan/genotypes/contexts"
	importMode "gohan/genotypes/models/constants/import-mode"
	sourceFormat "gohan/genotypes/models/constants/source-format"
	e "gohan/genotypes/models/dtos/errors"
	"gohan/genotypes/utils"

	"github.com/labstack/echo"
)

// MandateImportParameters validates the project, run, format and mode
// query parameters and stores them on the context.
func MandateImportParameters(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		gc := c.(*contexts.GohanContext)

		projectId := c.QueryParam("project")
		if !utils.IsValidIdentifier(projectId) {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(fmt.Sprintf("Invalid project %q", projectId)))
		}
		runName := c.QueryParam("run")
		if !utils.IsValidIdentifier(runName) {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(fmt.Sprintf("Invalid run %q", runName)))
		}

		format := sourceFormat.CastToSourceFormat(c.QueryParam("format"))
		if format == sourceFormat.Unknown {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(fmt.Sprintf("Unknown format %q", c.QueryParam("format"))))
		}
		mode := importMode.CastToImportMode(c.QueryParam("mode"))
		if mode == importMode.Unknown {
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(fmt.Sprintf("Unknown mode %q", c.QueryParam("mode"))))
		}

		gc.ProjectId = projectId
		gc.RunName = runName
		gc.Format = format
		gc.ImportMode = mode
		return next(gc)
	}
}
