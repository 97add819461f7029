package contexts

import (
	"gohan/genotypes/models"
	c "gohan/genotypes/models/constants"
	"gohan/genotypes/services"
	"gohan/genotypes/utils"

	"github.com/labstack/echo"
)

type (
	// "Helper" Context to pass into routes that need
	// the ingestion service and validated import parameters
	GohanContext struct {
		echo.Context
		Config           *models.Config
		IngestionService *services.IngestionService
		Log              *utils.Logger

		// set by the genotype import middleware
		ProjectId  string
		RunName    string
		Format     c.SourceFormat
		ImportMode c.ImportMode
	}
)

var _ echo.Context = (*GohanContext)(nil)
