package capture

import (
	"context"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeDurationSeconds asks the external probe tool for the container
// duration of a local file. Returns false when the tool is missing, the
// file does not exist, or the output is not a number.
func ProbeDurationSeconds(ctx context.Context, probeBin, path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	if _, err := os.Stat(path); err != nil {
		return 0, false
	}

	cmd := exec.CommandContext(ctx, probeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return int(math.Round(seconds)), true
}

// FileSizeMB returns the file size in megabytes, rounded to two decimals.
func FileSizeMB(path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return math.Round(float64(info.Size())/(1024*1024)*100) / 100, true
}
