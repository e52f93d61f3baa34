package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/capture"
	"github.com/Ambiente-MSL/clipradio/internal/config"
	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
	"github.com/Ambiente-MSL/clipradio/internal/store"
)

type recordOptions struct {
	radioID  string
	userID   string
	duration time.Duration
}

func newRecordCmd(app *appState) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture one radio stream to a local audio file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runRecord(cmd.Context(), *opts)
		},
	}

	cmd.Flags().StringVar(&opts.radioID, "radio", "", "Radio id to capture")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id the recording belongs to")
	cmd.Flags().DurationVar(&opts.duration, "duration", 5*time.Minute, "Capture duration, e.g. 90s or 10m")
	_ = cmd.MarkFlagRequired("radio")

	return cmd
}

func (a *appState) runRecord(ctx context.Context, opts recordOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	logger := a.log()
	finalizer := capture.NewFinalizer(st, notify.Nop{}, capture.FinalizerOptions{}, logger)
	supervisor := capture.NewSupervisor(st, finalizer, notify.Nop{}, cfg.AudioDir(), cfg.FFmpegThreads, cfg.Location(), logger)

	rec := &domain.Recording{
		ID:           uuid.NewString(),
		UserID:       opts.userID,
		RadioID:      opts.radioID,
		Status:       domain.RecordingIniciando,
		Tipo:         domain.TipoManual,
		CriadoEm:     time.Now(),
		AtualizadoEm: time.Now(),
	}
	if err := st.CreateRecording(ctx, rec); err != nil {
		return err
	}

	seconds := int(opts.duration / time.Second)
	logger.Info("capture started",
		zap.String("recording_id", rec.ID),
		zap.String("radio_id", opts.radioID),
		zap.Int("duration_seconds", seconds),
	)

	stopProgress := startDurationProgress(a.progressEnabled(), "Recording", opts.duration)
	err = supervisor.Start(ctx, rec, capture.StartOptions{DurationSeconds: seconds, Block: true})
	stopProgress()
	if err != nil {
		return err
	}

	if rec.Status != domain.RecordingConcluido {
		return fmt.Errorf("capture finished with status %s", rec.Status)
	}
	fmt.Fprintln(a.outWriter(), rec.ArquivoNome)
	return nil
}
