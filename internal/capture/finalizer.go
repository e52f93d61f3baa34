package capture

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
)

// Transcriber queues a completed recording for speech recognition.
type Transcriber interface {
	Enqueue(recordingID string, force bool)
}

// Archiver uploads a finished audio file to remote storage. Ready
// reports whether the archiver is configured; Archive returns the
// remote path on success.
type Archiver interface {
	Ready() bool
	Archive(ctx context.Context, rec *domain.Recording, localPath string) (string, error)
}

// FinalizeStore is the persistence surface the finalizer needs.
type FinalizeStore interface {
	SaveRecording(ctx context.Context, rec *domain.Recording) error
	SaveJob(ctx context.Context, job *domain.ScheduledJob) error
}

// Finalizer commits the terminal state of a capture: file metadata,
// recording and job status, notifications, then the post-capture chain
// (transcription enqueue, remote archive). Every step past the status
// commit is best-effort; a failed upload never turns concluido into erro.
type Finalizer struct {
	store    FinalizeStore
	notifier notify.Publisher
	logger   *zap.Logger

	probeBin          string
	transcriber       Transcriber
	transcribeEnabled bool
	archiver          Archiver
	deleteAfterUpload bool
	retentionDays     int

	now func() time.Time
}

// FinalizerOptions configure the post-capture chain.
type FinalizerOptions struct {
	Transcriber       Transcriber
	TranscribeEnabled bool
	Archiver          Archiver
	DeleteAfterUpload bool
	RetentionDays     int
}

func NewFinalizer(store FinalizeStore, notifier notify.Publisher, opts FinalizerOptions, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Finalizer{
		store:             store,
		notifier:          notifier,
		logger:            logger,
		probeBin:          "ffprobe",
		transcriber:       opts.Transcriber,
		transcribeEnabled: opts.TranscribeEnabled,
		archiver:          opts.Archiver,
		deleteAfterUpload: opts.DeleteAfterUpload,
		retentionDays:     opts.RetentionDays,
		now:               time.Now,
	}
}

// Finalize records the outcome of a capture run. fallbackSeconds is used
// for the stored duration when the output file cannot be probed; zero
// leaves the stored duration untouched.
func (f *Finalizer) Finalize(ctx context.Context, rec *domain.Recording, status, path string, fallbackSeconds int, job *domain.ScheduledJob) {
	if sizeMB, ok := FileSizeMB(path); ok {
		rec.TamanhoMB = sizeMB
	}
	if probed, ok := ProbeDurationSeconds(ctx, f.probeBin, path); ok {
		rec.DuracaoSegundos = probed
		rec.DuracaoMinutos = domain.MinutesFor(probed)
	} else if fallbackSeconds > 0 {
		rec.DuracaoSegundos = fallbackSeconds
		rec.DuracaoMinutos = domain.MinutesFor(fallbackSeconds)
	}

	if domain.ValidRecordingTransition(rec.Status, status) {
		rec.Status = status
	} else {
		f.logger.Warn("refusing recording status regression",
			zap.String("recording_id", rec.ID),
			zap.String("from", rec.Status),
			zap.String("to", status),
		)
	}
	rec.AtualizadoEm = f.now()

	if err := f.store.SaveRecording(ctx, rec); err != nil {
		f.logger.Error("persist finalized recording", zap.String("recording_id", rec.ID), zap.Error(err))
	}
	f.notifier.Publish(rec.UserID, "gravacao_updated", rec)

	if job != nil {
		f.finalizeJob(ctx, job, rec.Status)
	}

	if rec.Status != domain.RecordingConcluido {
		return
	}
	if f.transcriber != nil && f.transcribeEnabled {
		f.transcriber.Enqueue(rec.ID, false)
	}
	f.archive(ctx, rec, path)
}

func (f *Finalizer) finalizeJob(ctx context.Context, job *domain.ScheduledJob, recStatus string) {
	switch recStatus {
	case domain.RecordingConcluido:
		job.Status = job.PostRunStatus()
	case domain.RecordingErro:
		job.Status = domain.JobErro
	default:
		return
	}
	job.AtualizadoEm = f.now()
	if err := f.store.SaveJob(ctx, job); err != nil {
		f.logger.Error("persist finalized job", zap.String("job_id", job.ID), zap.Error(err))
	}
	f.notifier.Publish(job.UserID, "agendamento_updated", job)
}

func (f *Finalizer) archive(ctx context.Context, rec *domain.Recording, path string) {
	if f.archiver == nil || !f.archiver.Ready() || path == "" {
		return
	}
	remotePath, err := f.archiver.Archive(ctx, rec, path)
	if err != nil {
		f.logger.Error("archive upload failed", zap.String("recording_id", rec.ID), zap.Error(err))
		return
	}
	f.logger.Info("archived audio file",
		zap.String("recording_id", rec.ID),
		zap.String("remote_path", remotePath),
	)

	if f.shouldDeleteLocal(rec) {
		if err := os.Remove(path); err != nil {
			f.logger.Warn("remove local audio after upload", zap.String("path", path), zap.Error(err))
		}
		return
	}
	// Marker so a retention sweep can tell uploaded files from pending ones.
	if err := os.WriteFile(path+".dropbox", []byte(remotePath+"\n"), 0o644); err != nil {
		f.logger.Warn("write upload marker", zap.String("path", path), zap.Error(err))
	}
}

// shouldDeleteLocal keeps the local file while retention is configured or
// a transcription still needs to read it.
func (f *Finalizer) shouldDeleteLocal(rec *domain.Recording) bool {
	if !f.deleteAfterUpload || f.retentionDays > 0 {
		return false
	}
	if f.transcribeEnabled && rec.TranscricaoStatus != domain.TranscriptionConcluido {
		return false
	}
	return true
}
