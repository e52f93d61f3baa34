package archive

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// markerSuffix tags local files whose upload already succeeded; only
// those are eligible for retention cleanup.
const markerSuffix = ".dropbox"

// CleanupLocal deletes uploaded audio files older than retentionDays,
// together with their upload markers. Files without a marker are never
// touched. Returns how many audio files were removed.
func CleanupLocal(dir string, retentionDays int, now time.Time, logger *zap.Logger) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("retention: read audio directory", zap.String("dir", dir), zap.Error(err))
		return 0
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, markerSuffix) {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path + markerSuffix); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("retention: remove audio file", zap.String("path", path), zap.Error(err))
			continue
		}
		_ = os.Remove(path + markerSuffix)
		removed++
		logger.Info("retention: removed uploaded audio file", zap.String("path", path))
	}
	return removed
}
