package sanitation

import (
	"os"
	"path/filepath"
	"time"

	"gohan/genotypes/utils"

	"github.com/go-co-op/gocron"
)

// temporary files left behind by transposition and decompression
var tmpPatterns = []string{"gt-transposed-*", "gt-inflated-*"}

type (
	RequestPruner interface {
		PruneFinished(cutoff time.Time) int
	}

	SanitationService struct {
		Initialized bool
		TmpPath     string
		MaxAge      time.Duration
		Requests    RequestPruner

		scheduler *gocron.Scheduler
		logger    *utils.Logger
	}
)

func NewSanitationService(tmpPath string, maxAge time.Duration, requests RequestPruner, logger *utils.Logger) *SanitationService {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	ss := &SanitationService{
		Initialized: false,
		TmpPath:     tmpPath,
		MaxAge:      maxAge,
		Requests:    requests,
		logger:      logger.OrNop().With("service", "SanitationService"),
	}

	ss.Init()

	return ss
}

func (ss *SanitationService) Init() {
	if ss.Initialized {
		return
	}

	s := gocron.NewScheduler(time.UTC)

	// orphaned temporary files of crashed or killed imports
	s.Every(1).Days().At("04:00:00").Do(func() {
		ss.logger.Info("running temporary file cleanup", "dir", ss.TmpPath)
		removed, err := ss.RemoveStaleFiles(time.Now().Add(-ss.MaxAge))
		if err != nil {
			ss.logger.Error("temporary file cleanup failed", "error", err)
			return
		}
		ss.logger.Info("temporary file cleanup done", "removed", removed)
	})

	// finished ingestion requests
	s.Every(1).Hours().Do(func() {
		if ss.Requests == nil {
			return
		}
		pruned := ss.Requests.PruneFinished(time.Now().Add(-ss.MaxAge))
		if pruned > 0 {
			ss.logger.Info("pruned finished ingestion requests", "count", pruned)
		}
	})

	s.StartAsync()
	ss.scheduler = s
	ss.Initialized = true
	ss.logger.Info("sanitation service initialized")
}

func (ss *SanitationService) Stop() {
	if ss.scheduler != nil {
		ss.scheduler.Stop()
	}
}

// RemoveStaleFiles deletes import temporary files last modified before cutoff.
func (ss *SanitationService) RemoveStaleFiles(cutoff time.Time) (int, error) {
	removed := 0
	for _, pattern := range tmpPatterns {
		matches, err := filepath.Glob(filepath.Join(ss.TmpPath, pattern))
		if err != nil {
			return removed, err
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				ss.logger.Warn("could not remove temporary file", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
