package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ambiente-MSL/clipradio/internal/capture"
	"github.com/Ambiente-MSL/clipradio/internal/config"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
	"github.com/Ambiente-MSL/clipradio/internal/store"
	"github.com/Ambiente-MSL/clipradio/internal/transcribe"
)

func newClipsCmd(app *appState) *cobra.Command {
	var recordingID string
	var keywords []string

	cmd := &cobra.Command{
		Use:   "clips",
		Short: "Register keyword clips from a transcribed recording",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runClips(cmd.Context(), recordingID, keywords)
		},
	}

	cmd.Flags().StringVar(&recordingID, "recording", "", "Recording id to scan")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Keyword to search for (repeatable)")
	_ = cmd.MarkFlagRequired("recording")
	_ = cmd.MarkFlagRequired("keyword")

	return cmd
}

func (a *appState) runClips(ctx context.Context, recordingID string, keywords []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	rec, err := st.Recording(ctx, recordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("recording not found")
	}

	extractor := capture.NewClipExtractor(st,
		transcribe.SidecarSource{Dir: cfg.TranscriptDir()},
		notify.Nop{},
		a.log(),
	)
	created, err := extractor.ProcessClips(ctx, rec, keywords)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.outWriter(), "%d clip(s) registered\n", created)
	return nil
}
