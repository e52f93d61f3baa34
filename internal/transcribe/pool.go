package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
)

// Store is the persistence surface the pool needs.
type Store interface {
	Recording(ctx context.Context, id string) (*domain.Recording, error)
	SaveRecording(ctx context.Context, rec *domain.Recording) error
}

// Config tunes the transcription pool.
type Config struct {
	Enabled  bool
	Model    string
	Language string

	BeamSize        int
	BestOf          int
	VAD             bool
	VADMinSilenceMS int
	ChunkLength     int

	// TextUpdateSeconds is how much new audio must be decoded before the
	// partial text is committed again.
	TextUpdateSeconds int
	MaxConcurrent     int

	AudioDir      string
	TranscriptDir string
	ProbeBin      string
}

type job struct {
	recordingID string
	force       bool
}

// Pool runs transcriptions with bounded concurrency. Work arrives via
// Enqueue, is drained by up to MaxConcurrent workers, and every state
// change is committed to the store and published so clients can follow
// progress live.
type Pool struct {
	cfg      Config
	store    Store
	notifier notify.Publisher
	factory  EngineFactory
	logger   *zap.Logger

	// The engine loads lazily and is retried on the next job if loading
	// failed, so a missing model does not wedge the pool permanently.
	engineMu sync.Mutex
	engine   Engine

	// inferMu serializes decoding when only one concurrent run is allowed;
	// the queue alone cannot guarantee that once workers are replenished.
	inferMu sync.Mutex

	// inFlight refcounts queued and running submissions per recording so
	// non-forced duplicates coalesce while forced ones still queue.
	mu       sync.Mutex
	queue    chan job
	workers  int
	active   int
	inFlight map[string]int

	closeOnce sync.Once
	now       func() time.Time
}

func NewPool(cfg Config, store Store, notifier notify.Publisher, factory EngineFactory, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TextUpdateSeconds < 1 {
		cfg.TextUpdateSeconds = 1
	}
	if cfg.ProbeBin == "" {
		cfg.ProbeBin = "ffprobe"
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		factory:  factory,
		logger:   logger,
		queue:    make(chan job, 256),
		inFlight: make(map[string]int),
		now:      time.Now,
	}
}

// Enqueue queues a recording for transcription. Recordings that already
// have text, or are being transcribed right now, are skipped unless
// force is set. Safe to call from any goroutine.
func (p *Pool) Enqueue(recordingID string, force bool) {
	if !p.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := p.store.Recording(ctx, recordingID)
	if err != nil || rec == nil {
		p.logger.Warn("enqueue skipped, recording unavailable",
			zap.String("recording_id", recordingID), zap.Error(err))
		return
	}
	if !force {
		if rec.TranscricaoTexto != "" && rec.TranscricaoStatus == domain.TranscriptionConcluido {
			return
		}
		if rec.TranscricaoStatus == domain.TranscriptionProcessando {
			return
		}
	}

	p.mu.Lock()
	if p.inFlight[recordingID] > 0 && !force {
		p.mu.Unlock()
		return
	}
	p.inFlight[recordingID]++
	busy := p.active >= p.cfg.MaxConcurrent || len(p.queue) > 0
	p.ensureWorkersLocked()
	p.mu.Unlock()

	rec.TranscricaoStatus = domain.TranscriptionProcessando
	if busy {
		rec.TranscricaoStatus = domain.TranscriptionFila
	}
	rec.TranscricaoModelo = p.cfg.Model
	rec.TranscricaoProgresso = 0
	rec.TranscricaoErro = ""
	rec.TranscricaoCancelada = false
	p.commit(ctx, rec)

	p.queue <- job{recordingID: recordingID, force: force}
}

// RequestStop asks a queued or running transcription to stop. Only valid
// while the transcription is in fila, processando or interrompendo.
func (p *Pool) RequestStop(ctx context.Context, recordingID string) error {
	if !p.cfg.Enabled {
		return errors.New("transcription is disabled")
	}
	rec, err := p.store.Recording(ctx, recordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("recording not found")
	}
	switch rec.TranscricaoStatus {
	case domain.TranscriptionProcessando, domain.TranscriptionInterrompendo, domain.TranscriptionFila:
	default:
		return errors.New("transcription is not running")
	}
	rec.TranscricaoStatus = domain.TranscriptionInterrompendo
	rec.TranscricaoCancelada = true
	p.commit(ctx, rec)
	return nil
}

// Close stops accepting work and lets running workers drain the queue.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
}

// Active reports how many transcriptions are decoding right now.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) ensureWorkersLocked() {
	for p.workers < p.cfg.MaxConcurrent {
		p.workers++
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()
	for j := range p.queue {
		p.runJob(j)
	}
}

func (p *Pool) runJob(j job) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		if p.inFlight[j.recordingID]--; p.inFlight[j.recordingID] <= 0 {
			delete(p.inFlight, j.recordingID)
		}
		p.mu.Unlock()
	}()

	ctx := context.Background()
	rec, err := p.store.Recording(ctx, j.recordingID)
	if err != nil || rec == nil {
		p.logger.Warn("transcription job skipped, recording unavailable",
			zap.String("recording_id", j.recordingID), zap.Error(err))
		return
	}
	if rec.TranscricaoCancelada || rec.TranscricaoStatus == domain.TranscriptionInterrompendo {
		rec.TranscricaoStatus = domain.TranscriptionInterrompido
		p.commit(ctx, rec)
		return
	}

	p.transcribe(ctx, rec, j.force)
}

// commit persists the transcription fields and publishes the update.
func (p *Pool) commit(ctx context.Context, rec *domain.Recording) {
	rec.AtualizadoEm = p.now()
	if err := p.store.SaveRecording(ctx, rec); err != nil {
		p.logger.Error("persist transcription state",
			zap.String("recording_id", rec.ID),
			zap.String("status", rec.TranscricaoStatus),
			zap.Error(err),
		)
	}
	p.notifier.Publish(rec.UserID, "gravacao_updated", rec)
}

func (p *Pool) loadEngine() (Engine, error) {
	p.engineMu.Lock()
	defer p.engineMu.Unlock()
	if p.engine != nil {
		return p.engine, nil
	}
	engine, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.engine = engine
	return engine, nil
}
