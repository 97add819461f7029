package models

type Config struct {
	Debug bool `yaml:"debug" envconfig:"GOHAN_DEBUG"`

	Api struct {
		Url             string `yaml:"url" envconfig:"GOHAN_PUBLIC_URL"`
		Port            string `yaml:"port" envconfig:"GOHAN_API_INTERNAL_PORT"`
		DataPath        string `yaml:"dataPath" envconfig:"GOHAN_API_GT_PATH"`
		TmpPath         string `yaml:"tmpPath" envconfig:"GOHAN_API_GT_TMP_PATH"`
		ReportsPath     string `yaml:"reportsPath" envconfig:"GOHAN_API_GT_REPORTS_PATH"`
		BulkIndexingCap int    `yaml:"BulkIndexingCap" envconfig:"GOHAN_API_BULK_INDEXING_CAP"`

		FileProcessingConcurrencyLevel int `yaml:"fileProcessingConcurrencyLevel" envconfig:"GOHAN_API_FILE_PROC_CONC_LVL"`
	}

	Import struct {
		AllowUnknownVariants  bool   `yaml:"allowUnknownVariants" envconfig:"GOHAN_GT_ALLOW_UNKNOWN_VARIANTS"`
		UsePositionalMatching bool   `yaml:"usePositionalMatching" envconfig:"GOHAN_GT_POSITIONAL_MATCHING"`
		ChunkRecordBudget     int    `yaml:"chunkRecordBudget" envconfig:"GOHAN_GT_CHUNK_RECORD_BUDGET"`
		MaxConcurrentMatrices int    `yaml:"maxConcurrentMatrices" envconfig:"GOHAN_GT_MAX_CONCURRENT_TRANSPOSITIONS"`
		TransposeWorkers      int    `yaml:"transposeWorkers" envconfig:"GOHAN_GT_TRANSPOSE_WORKERS"`
		TransposeMemoryMiB    int    `yaml:"transposeMemoryMiB" envconfig:"GOHAN_GT_TRANSPOSE_MEMORY_MIB"`
		TransposeBlockSize    int    `yaml:"transposeBlockSize" envconfig:"GOHAN_GT_TRANSPOSE_BLOCK_SIZE"`
		MissingDataToken      string `yaml:"missingDataToken" envconfig:"GOHAN_GT_MISSING_TOKEN"`
	}

	Elasticsearch struct {
		Url      string `yaml:"url" envconfig:"GOHAN_ES_URL"`
		Username string `yaml:"username" envconfig:"GOHAN_ES_USERNAME"`
		Password string `yaml:"password" envconfig:"GOHAN_ES_PASSWORD"`
	}

	Redis struct {
		Addr    string `yaml:"addr" envconfig:"GOHAN_REDIS_ADDR"`
		Channel string `yaml:"channel" envconfig:"GOHAN_REDIS_PROGRESS_CHANNEL"`
	}

	Reports struct {
		S3Bucket   string `yaml:"s3Bucket" envconfig:"GOHAN_GT_REPORTS_S3_BUCKET"`
		S3Region   string `yaml:"s3Region" envconfig:"GOHAN_GT_REPORTS_S3_REGION"`
		S3Endpoint string `yaml:"s3Endpoint" envconfig:"GOHAN_GT_REPORTS_S3_ENDPOINT"`
		PathStyle  bool   `yaml:"pathStyle" envconfig:"GOHAN_GT_REPORTS_S3_PATH_STYLE"`
	}

	AuthX struct {
		IsAuthorizationEnabled bool   `yaml:"isAuthorizationEnabled" envconfig:"GOHAN_AUTHZ_ENABLED"`
		AuthorizationUrl       string `yaml:"authorizationUrl" envconfig:"GOHAN_AUTHZ_URL"`
	}
}

// ApplyDefaults fills zero-valued import tunables.
func (cfg *Config) ApplyDefaults() {
	if cfg.Api.Port == "" {
		cfg.Api.Port = "5000"
	}
	if cfg.Api.TmpPath == "" {
		cfg.Api.TmpPath = "/tmp"
	}
	if cfg.Api.ReportsPath == "" {
		cfg.Api.ReportsPath = cfg.Api.TmpPath
	}
	if cfg.Api.BulkIndexingCap <= 0 {
		cfg.Api.BulkIndexingCap = 10000
	}
	if cfg.Api.FileProcessingConcurrencyLevel <= 0 {
		cfg.Api.FileProcessingConcurrencyLevel = 2
	}
	if cfg.Import.ChunkRecordBudget <= 0 {
		cfg.Import.ChunkRecordBudget = 200000
	}
	if cfg.Import.MaxConcurrentMatrices <= 0 {
		cfg.Import.MaxConcurrentMatrices = 2
	}
	if cfg.Import.TransposeMemoryMiB <= 0 {
		cfg.Import.TransposeMemoryMiB = 512
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "gohan-genotype-progress"
	}
}
