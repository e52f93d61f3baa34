package capture

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
)

// ClipStore persists keyword clips cut from finished recordings.
type ClipStore interface {
	SaveRecording(ctx context.Context, rec *domain.Recording) error
	CreateClip(ctx context.Context, clip *domain.Clip) error
}

// ClipExtractor scans a recording's transcript segments for keywords and
// registers one clip row per hit. The audio itself is not re-encoded; a
// clip only records the matching time span.
type ClipExtractor struct {
	store    ClipStore
	segments SegmentSource
	notifier notify.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// SegmentSource yields the timed transcript segments of a recording.
type SegmentSource interface {
	SegmentsFor(recordingID string) ([]TimedText, error)
}

// TimedText is one transcript span with its position in the audio.
type TimedText struct {
	Start float64
	End   float64
	Text  string
}

func NewClipExtractor(store ClipStore, segments SegmentSource, notifier notify.Publisher, logger *zap.Logger) *ClipExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ClipExtractor{
		store:    store,
		segments: segments,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessClips marks the recording as processando, registers a clip per
// keyword hit in its transcript, and marks it concluido again. Errors on
// individual clips are logged and skipped so one bad row cannot wedge
// the whole recording.
func (c *ClipExtractor) ProcessClips(ctx context.Context, rec *domain.Recording, keywords []string) (int, error) {
	segs, err := c.segments.SegmentsFor(rec.ID)
	if err != nil {
		return 0, err
	}

	rec.Status = domain.RecordingProcessando
	rec.AtualizadoEm = c.now()
	if err := c.store.SaveRecording(ctx, rec); err != nil {
		return 0, err
	}

	created := 0
	for _, seg := range segs {
		lowered := strings.ToLower(seg.Text)
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" || !strings.Contains(lowered, strings.ToLower(kw)) {
				continue
			}
			clip := &domain.Clip{
				ID:             uuid.NewString(),
				GravacaoID:     rec.ID,
				PalavraChave:   kw,
				InicioSegundos: seg.Start,
				FimSegundos:    seg.End,
				ArquivoURL:     rec.ArquivoURL,
			}
			if err := c.store.CreateClip(ctx, clip); err != nil {
				c.logger.Error("persist clip",
					zap.String("recording_id", rec.ID),
					zap.String("keyword", kw),
					zap.Error(err),
				)
				continue
			}
			created++
		}
	}

	rec.Status = domain.RecordingConcluido
	rec.AtualizadoEm = c.now()
	if err := c.store.SaveRecording(ctx, rec); err != nil {
		return created, err
	}
	c.notifier.Publish(rec.UserID, "gravacao_processed", rec)
	return created, nil
}
