// Package transcribe turns finished audio captures into text. A bounded
// worker pool drains a queue of recordings, an Engine implementation does
// the actual speech recognition, and progress is committed incrementally
// so readers can follow a long transcription as it runs.
package transcribe

import "context"

// Segment is one recognized span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Request configures a single transcription run.
type Request struct {
	Path            string
	Language        string
	BeamSize        int
	BestOf          int
	VAD             bool
	VADMinSilenceMS int
	ChunkLength     int
}

// Segments streams recognized segments lazily so progress can be
// reported while the engine is still decoding. Next advances to the
// following segment; after it returns false, Err reports any failure
// that ended the stream early. Close releases whatever backs the
// stream and must be called when the consumer abandons it before
// draining.
type Segments interface {
	Next() bool
	Segment() Segment
	Err() error
	Close() error
}

// Result is the outcome of a transcription run. Language and Duration
// may only be final once the segment stream has been fully drained.
type Result struct {
	Language string
	Duration float64
	Segments Segments
}

// Engine performs speech recognition on one audio file.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// EngineFactory builds the engine on first use so a missing model or
// binary does not prevent the rest of the service from starting.
type EngineFactory func() (Engine, error)

type sliceSegments struct {
	segs []Segment
	idx  int
}

// NewSliceSegments wraps an in-memory slice in the stream interface.
func NewSliceSegments(segs []Segment) Segments {
	return &sliceSegments{segs: segs, idx: -1}
}

func (s *sliceSegments) Next() bool {
	if s.idx+1 >= len(s.segs) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceSegments) Segment() Segment { return s.segs[s.idx] }

func (s *sliceSegments) Err() error { return nil }

func (s *sliceSegments) Close() error { return nil }
