package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ambiente-MSL/clipradio/internal/capture"
)

func newValidateCmd(app *appState) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "validate <stream-url>",
		Short: "Check that a stream URL is reachable and plausibly audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runValidate(cmd.Context(), args[0], timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 8*time.Second, "Probe timeout")
	return cmd
}

func (a *appState) runValidate(ctx context.Context, streamURL string, timeout time.Duration) error {
	validator := capture.NewValidator(a.log())

	stopProgress := startSpinner(a.progressEnabled(), "Validating stream")
	ok, reason := validator.Validate(ctx, streamURL, timeout)
	stopProgress()

	if !ok {
		return fmt.Errorf("stream validation failed: %s", reason)
	}
	fmt.Fprintln(a.outWriter(), "stream ok")
	return nil
}
