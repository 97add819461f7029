package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"gohan/genotypes/models"
	importMode "gohan/genotypes/models/constants/import-mode"
	sourceFormat "gohan/genotypes/models/constants/source-format"
	esRepo "gohan/genotypes/repositories/elasticsearch"
	"gohan/genotypes/repositories/memory"
	"gohan/genotypes/services"
	"gohan/genotypes/services/orchestration"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/utils"

	"github.com/kelseyhightower/envconfig"
	cli "github.com/urfave/cli/v2"
)

var (
	validStores  = []string{"elasticsearch", "memory"}
	validFormats = []string{"matrix", "tabular", "vcf", "remote"}
)

func newApp() *cli.App {
	return &cli.App{
		Name:            "gtimport",
		Usage:           "Import a genotyping dataset into the variant store",
		HideHelpCommand: true,
		Version:         "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "project",
				Aliases:  []string{"p"},
				Usage:    "Project the run belongs to",
				Required: true,
				Category: "Required",
			},
			&cli.StringFlag{
				Name:     "run",
				Aliases:  []string{"r"},
				Usage:    "Name of the run being imported",
				Required: true,
				Category: "Required",
			},
			&cli.StringFlag{
				Name:     "format",
				Aliases:  []string{"f"},
				Usage:    "Input format, one of: " + strings.Join(validFormats, ", "),
				Required: true,
				Category: "Required",
				Action: func(c *cli.Context, input string) error {
					if sourceFormat.CastToSourceFormat(input) == sourceFormat.Unknown {
						return cli.Exit("Invalid format '"+input+"', must be one of: "+strings.Join(validFormats, ", "), 1)
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Input file, or the endpoint url of a remote source",
				Required: true,
				Category: "Required",
			},
			&cli.StringFlag{
				Name:     "mode",
				Aliases:  []string{"m"},
				Usage:    "append or replace",
				Value:    "append",
				Category: "Optional",
				Action: func(c *cli.Context, input string) error {
					if importMode.CastToImportMode(input) == importMode.Unknown {
						return cli.Exit("Invalid mode '"+input+"', must be one of: append, replace", 1)
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:     "store",
				Aliases:  []string{"s"},
				Usage:    "Target store, one of: " + strings.Join(validStores, ", "),
				Value:    "elasticsearch",
				Category: "Optional",
				Action: func(c *cli.Context, input string) error {
					if utils.StringInSlice(input, validStores) {
						return nil
					}
					return cli.Exit("Invalid store '"+input+"', must be one of: "+strings.Join(validStores, ", "), 1)
				},
			},
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Configuration file (YAML); environment variables are used otherwise",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "delimiter",
				Aliases:  []string{"d"},
				Usage:    "Column delimiter of tabular inputs, detected from the header by default",
				Category: "Optional",
			},
			&cli.BoolFlag{
				Name:     "allow-unknown",
				Usage:    "Create variants that are not in the store yet",
				Category: "Optional",
			},
			&cli.BoolFlag{
				Name:     "debug",
				Usage:    "Verbose logging",
				Category: "Optional",
			},
		},
		Action: runImport,
	}
}

func loadConfig(c *cli.Context) (*models.Config, error) {
	if path := c.String("config"); path != "" {
		return utils.LoadConfigFile(path)
	}
	var cfg models.Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func openStore(ctx context.Context, c *cli.Context, cfg *models.Config, logger *utils.Logger) (orchestration.Store, error) {
	if c.String("store") == "memory" {
		return memory.NewStore(), nil
	}
	es, err := utils.CreateEsConnection(cfg)
	if err != nil {
		return nil, err
	}
	store := esRepo.NewStore(es, cfg.Api.BulkIndexingCap/100, logger)
	if err := store.EnsureIndices(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func parseDelimiter(text string) (rune, error) {
	if text == "" {
		return 0, nil
	}
	if text == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(text)
	if size != len(text) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", text)
	}
	return r, nil
}

func runImport(c *cli.Context) error {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 2)
	}
	if c.Bool("allow-unknown") {
		cfg.Import.AllowUnknownVariants = true
	}
	logger, err := utils.NewLogger(cfg.Debug || c.Bool("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	delimiter, err := parseDelimiter(c.String("delimiter"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	store, err := openStore(ctx, c, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening store: %v", err), 1)
	}
	stack, err := services.NewImportStack(ctx, cfg, store, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	format := sourceFormat.CastToSourceFormat(c.String("format"))
	indicator := progress.NewIndicator(c.String("run"), nil)
	result, err := stack.Orchestrator.ImportFile(ctx, orchestration.FileImportRequest{
		ProjectId: c.String("project"),
		RunName:   c.String("run"),
		Mode:      importMode.CastToImportMode(c.String("mode")),
		Format:    format,
		Path:      c.String("input"),
		Tabular:   orchestration.TabularLayout{Delimiter: delimiter, MissingToken: cfg.Import.MissingDataToken},
		Progress:  indicator,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("import failed: %v", err), 1)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
