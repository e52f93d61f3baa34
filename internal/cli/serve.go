package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ambiente-MSL/clipradio/internal/archive"
	"github.com/Ambiente-MSL/clipradio/internal/capture"
	"github.com/Ambiente-MSL/clipradio/internal/config"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
	"github.com/Ambiente-MSL/clipradio/internal/schedule"
	"github.com/Ambiente-MSL/clipradio/internal/store"
	"github.com/Ambiente-MSL/clipradio/internal/transcribe"
)

const retentionSweepInterval = time.Hour

func newServeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording and transcription daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}
}

func (a *appState) runServe(ctx context.Context) error {
	logger := a.log()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	loc := cfg.Location()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	var notifier notify.Publisher = notify.Nop{}
	if cfg.RedisAddr != "" {
		redisPub := notify.NewRedisPublisher(cfg.RedisAddr, logger)
		defer redisPub.Close()
		notifier = redisPub
	} else {
		logger.Info("redis not configured, notifications disabled")
	}

	var archiver capture.Archiver
	if cfg.Dropbox.UploadEnabled {
		archiver = archive.NewClient(archive.Config{
			AccessToken: cfg.Dropbox.AccessToken,
			BasePath:    cfg.Dropbox.AudioPath,
			Layout:      cfg.Dropbox.AudioLayout,
		}, st, logger)
	}

	modelDir := filepath.Join(cfg.StoragePath, "models")
	factory := func() (transcribe.Engine, error) {
		return transcribe.NewCLIEngine(cfg.Transcribe.Model, modelDir, cfg.Transcribe.Device, logger)
	}
	pool := transcribe.NewPool(transcribe.Config{
		Enabled:           cfg.Transcribe.Enabled,
		Model:             cfg.Transcribe.Model,
		Language:          cfg.Transcribe.Language,
		BeamSize:          cfg.Transcribe.BeamSize,
		BestOf:            cfg.Transcribe.BestOf,
		VAD:               cfg.Transcribe.VAD,
		VADMinSilenceMS:   cfg.Transcribe.VADMinSilenceMS,
		ChunkLength:       cfg.Transcribe.ChunkLength,
		TextUpdateSeconds: cfg.Transcribe.TextUpdateSeconds,
		MaxConcurrent:     cfg.Transcribe.MaxConcurrent,
		AudioDir:          cfg.AudioDir(),
		TranscriptDir:     cfg.TranscriptDir(),
	}, st, notifier, factory, logger)
	defer pool.Close()

	finalizer := capture.NewFinalizer(st, notifier, capture.FinalizerOptions{
		Transcriber:       pool,
		TranscribeEnabled: cfg.Transcribe.Enabled,
		Archiver:          archiver,
		DeleteAfterUpload: cfg.Dropbox.DeleteLocalAfterUpload,
		RetentionDays:     cfg.Dropbox.LocalRetentionDays,
	}, logger)

	supervisor := capture.NewSupervisor(st, finalizer, notifier, cfg.AudioDir(), cfg.FFmpegThreads, loc, logger)

	var validator schedule.StreamValidator
	if cfg.StreamValidateOnSchedule || cfg.StreamValidateOnExecute {
		validator = capture.NewValidator(logger)
	}
	scheduler := schedule.New(st, supervisor, validator, notifier, loc, schedule.Options{
		ValidateOnSchedule: cfg.StreamValidateOnSchedule,
		ValidateOnExecute:  cfg.StreamValidateOnExecute,
		ValidateTimeout:    cfg.ValidateTimeout(),
	}, logger)
	defer scheduler.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := scheduler.Init(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if cfg.Dropbox.UploadEnabled && cfg.Dropbox.LocalRetentionDays > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(retentionSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					archive.CleanupLocal(cfg.AudioDir(), cfg.Dropbox.LocalRetentionDays, time.Now(), logger)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	logger.Info("daemon started",
		zap.String("storage", cfg.StoragePath),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("transcribe", cfg.Transcribe.Enabled),
		zap.Bool("dropbox_upload", cfg.Dropbox.UploadEnabled),
	)

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}
