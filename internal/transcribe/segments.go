package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type segmentsFile struct {
	Segments []Segment `json:"segments"`
}

func segmentsPath(dir, recordingID string) string {
	return filepath.Join(dir, recordingID+".segments.json")
}

// WriteSegments persists the timed segments of a finished transcription
// as a sidecar file next to the transcript text stored in the database.
func WriteSegments(dir, recordingID string, segs []Segment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	data, err := json.Marshal(segmentsFile{Segments: segs})
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	if err := os.WriteFile(segmentsPath(dir, recordingID), data, 0o644); err != nil {
		return fmt.Errorf("write segments sidecar: %w", err)
	}
	return nil
}

// ReadSegments loads the sidecar written by WriteSegments. A missing
// file is an error; callers treat it as "no timed transcript available".
func ReadSegments(dir, recordingID string) ([]Segment, error) {
	data, err := os.ReadFile(segmentsPath(dir, recordingID))
	if err != nil {
		return nil, err
	}
	var file segmentsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode segments sidecar: %w", err)
	}
	return file.Segments, nil
}
