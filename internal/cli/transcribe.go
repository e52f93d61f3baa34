package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ambiente-MSL/clipradio/internal/config"
	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
	"github.com/Ambiente-MSL/clipradio/internal/store"
	"github.com/Ambiente-MSL/clipradio/internal/transcribe"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var recordingID string
	var force bool

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe a finished recording and print the text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTranscribe(cmd.Context(), recordingID, force)
		},
	}

	cmd.Flags().StringVar(&recordingID, "recording", "", "Recording id to transcribe")
	cmd.Flags().BoolVar(&force, "force", false, "Re-transcribe even if text already exists")
	_ = cmd.MarkFlagRequired("recording")

	return cmd
}

func (a *appState) runTranscribe(ctx context.Context, recordingID string, force bool) error {
	logger := a.log()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	modelDir := filepath.Join(cfg.StoragePath, "models")
	factory := func() (transcribe.Engine, error) {
		return transcribe.NewCLIEngine(cfg.Transcribe.Model, modelDir, cfg.Transcribe.Device, logger)
	}
	pool := transcribe.NewPool(transcribe.Config{
		Enabled:           true,
		Model:             cfg.Transcribe.Model,
		Language:          cfg.Transcribe.Language,
		BeamSize:          cfg.Transcribe.BeamSize,
		BestOf:            cfg.Transcribe.BestOf,
		VAD:               cfg.Transcribe.VAD,
		VADMinSilenceMS:   cfg.Transcribe.VADMinSilenceMS,
		ChunkLength:       cfg.Transcribe.ChunkLength,
		TextUpdateSeconds: cfg.Transcribe.TextUpdateSeconds,
		MaxConcurrent:     1,
		AudioDir:          cfg.AudioDir(),
		TranscriptDir:     cfg.TranscriptDir(),
	}, st, notify.Nop{}, factory, logger)
	defer pool.Close()

	stopProgress := startSpinner(a.progressEnabled(), "Transcribing")
	pool.Enqueue(recordingID, force)
	rec, err := waitForTranscription(ctx, st, recordingID)
	stopProgress()
	if err != nil {
		return err
	}

	if rec.TranscricaoStatus != domain.TranscriptionConcluido {
		return fmt.Errorf("transcription finished with status %s: %s", rec.TranscricaoStatus, rec.TranscricaoErro)
	}
	fmt.Fprintln(a.outWriter(), rec.TranscricaoTexto)
	return nil
}

func waitForTranscription(ctx context.Context, st *store.Store, recordingID string) (*domain.Recording, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			rec, err := st.Recording(ctx, recordingID)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				return nil, errors.New("recording not found")
			}
			switch rec.TranscricaoStatus {
			case domain.TranscriptionConcluido, domain.TranscriptionErro, domain.TranscriptionInterrompido:
				return rec, nil
			}
		}
	}
}
