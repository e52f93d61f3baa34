package transcribe

import (
	"github.com/Ambiente-MSL/clipradio/internal/capture"
)

// SidecarSource exposes persisted transcript segments to the clip
// extractor.
type SidecarSource struct {
	Dir string
}

func (s SidecarSource) SegmentsFor(recordingID string) ([]capture.TimedText, error) {
	segs, err := ReadSegments(s.Dir, recordingID)
	if err != nil {
		return nil, err
	}
	out := make([]capture.TimedText, 0, len(segs))
	for _, seg := range segs {
		out = append(out, capture.TimedText{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return out, nil
}
