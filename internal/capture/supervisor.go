package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
)

// safetyTimeoutGrace is added to the requested duration before the
// supervisor forcibly terminates a capture process.
const safetyTimeoutGrace = 20 * time.Second

// defaultDurationSeconds applies when neither the caller nor the
// recording carries a usable duration.
const defaultDurationSeconds = 300

var allowedBitrates = map[int]bool{96: true, 128: true}
var allowedFormats = map[string]bool{"mp3": true, "opus": true}

// Store is the persistence surface the supervisor needs.
type Store interface {
	Radio(ctx context.Context, id string) (*domain.Radio, error)
	SaveRecording(ctx context.Context, rec *domain.Recording) error
}

// StartOptions tune one capture run.
type StartOptions struct {
	// DurationSeconds overrides the recording's stored duration.
	DurationSeconds int
	// Job, when set, has its status finalized together with the recording.
	Job *domain.ScheduledJob
	// Block runs supervision on the calling goroutine. The scheduler uses
	// this so a recurring job's slot stays busy until capture truly ends.
	Block bool
}

// Supervisor spawns and watches external capture processes, then hands
// the outcome to the Finalizer.
type Supervisor struct {
	store     Store
	finalizer *Finalizer
	notifier  notify.Publisher
	logger    *zap.Logger

	audioDir   string
	threads    int
	captureBin string
	probeBin   string
	loc        *time.Location
	now        func() time.Time

	registry *processRegistry
}

func NewSupervisor(store Store, finalizer *Finalizer, notifier notify.Publisher, audioDir string, threads int, loc *time.Location, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Supervisor{
		store:      store,
		finalizer:  finalizer,
		notifier:   notifier,
		logger:     logger,
		audioDir:   audioDir,
		threads:    threads,
		captureBin: "ffmpeg",
		probeBin:   "ffprobe",
		loc:        loc,
		now:        time.Now,
		registry:   newProcessRegistry(),
	}
}

type captureParams struct {
	BitrateKbps int
	Format      string
	Channels    int
}

// resolveCaptureParams applies the allow-lists with safe fallbacks.
func resolveCaptureParams(radio *domain.Radio) captureParams {
	p := captureParams{BitrateKbps: 128, Format: "mp3", Channels: 2}
	if radio == nil {
		return p
	}
	if allowedBitrates[radio.BitrateKbps] {
		p.BitrateKbps = radio.BitrateKbps
	}
	if allowedFormats[radio.OutputFormat] {
		p.Format = radio.OutputFormat
	}
	if radio.AudioMode == "mono" {
		p.Channels = 1
	}
	return p
}

// resolveDurationSeconds prefers the explicit argument, then the stored
// seconds, then stored minutes; anything non-positive falls back to five
// minutes, and the result is always clamped to the minimum floor.
func resolveDurationSeconds(explicit int, rec *domain.Recording) int {
	seconds := explicit
	if seconds <= 0 && rec != nil {
		seconds = rec.DuracaoSegundos
	}
	if seconds <= 0 && rec != nil {
		seconds = rec.DuracaoMinutos * 60
	}
	if seconds <= 0 {
		seconds = defaultDurationSeconds
	}
	if seconds < domain.MinRecordSeconds {
		seconds = domain.MinRecordSeconds
	}
	return seconds
}

// buildCaptureArgs assembles the external tool's argument list.
func buildCaptureArgs(streamURL string, seconds int, p captureParams, threads int, outputPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	if threads > 0 {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	if isHTTPURL(streamURL) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-user_agent", streamUserAgent,
		)
	}
	args = append(args, "-i", streamURL, "-t", strconv.Itoa(seconds), "-ac", strconv.Itoa(p.Channels))
	if p.Format == "opus" {
		args = append(args, "-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", p.BitrateKbps), "-vbr", "on")
	} else {
		args = append(args, "-acodec", "libmp3lame", "-b:a", fmt.Sprintf("%dk", p.BitrateKbps))
	}
	return append(args, outputPath)
}

// outputAcceptable decides whether a finished capture produced a viable
// file. A probed duration, when available, must clear the floor; without
// one the file size must exceed max(8 KiB, 10% of the expected byte count
// for the minimum window at the configured bitrate).
func outputAcceptable(exists bool, size int64, probedSeconds int, probeOK bool, requestedSeconds, bitrateKbps int) bool {
	if !exists {
		return false
	}
	if probeOK {
		return probedSeconds >= domain.MinRecordSeconds
	}
	minSeconds := requestedSeconds
	if minSeconds > domain.MinRecordSeconds {
		minSeconds = domain.MinRecordSeconds
	}
	expected := int64(bitrateKbps*1000/8) * int64(minSeconds)
	floor := int64(8 * 1024)
	if tenth := expected / 10; tenth > floor {
		floor = tenth
	}
	return size >= floor
}

// Start begins a capture for the recording. The recording must already be
// persisted; its status transitions to gravando before the process spawns
// so concurrent readers see the in-progress file path.
func (s *Supervisor) Start(ctx context.Context, rec *domain.Recording, opts StartOptions) error {
	radio, err := s.store.Radio(ctx, rec.RadioID)
	if err != nil {
		return fmt.Errorf("resolve radio %s: %w", rec.RadioID, err)
	}
	if radio == nil || radio.StreamURL == "" {
		return errors.New("radio not found or stream_url missing")
	}

	params := resolveCaptureParams(radio)
	seconds := resolveDurationSeconds(opts.DurationSeconds, rec)
	rec.DuracaoSegundos = seconds
	rec.DuracaoMinutos = domain.MinutesFor(seconds)

	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.%s", rec.ID, s.now().In(s.loc).Format("20060102_150405"), params.Format)
	outputPath := filepath.Join(s.audioDir, filename)

	rec.Status = domain.RecordingGravando
	rec.ArquivoNome = filename
	rec.ArquivoURL = "/api/files/audio/" + filename
	if err := s.store.SaveRecording(ctx, rec); err != nil {
		return fmt.Errorf("persist in-progress recording: %w", err)
	}

	cmd := exec.Command(s.captureBin, buildCaptureArgs(radio.StreamURL, seconds, params, s.threads, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		s.finalizer.Finalize(ctx, rec, domain.RecordingErro, outputPath, seconds, opts.Job)
		return fmt.Errorf("start capture process: %w", err)
	}
	s.registry.add(rec.ID, cmd)

	s.notifier.Publish(rec.UserID, "gravacao_started", rec)

	// The supervision goroutine must outlive the caller's request scope.
	superviseCtx := context.WithoutCancel(ctx)
	if opts.Block {
		s.supervise(superviseCtx, rec, opts.Job, cmd, &stderr, outputPath, seconds, params.BitrateKbps)
		return nil
	}
	go s.supervise(superviseCtx, rec, opts.Job, cmd, &stderr, outputPath, seconds, params.BitrateKbps)
	return nil
}

// Record runs a blocking capture; adapter used by the cron scheduler.
func (s *Supervisor) Record(ctx context.Context, rec *domain.Recording, job *domain.ScheduledJob, seconds int) error {
	return s.Start(ctx, rec, StartOptions{DurationSeconds: seconds, Job: job, Block: true})
}

func (s *Supervisor) supervise(ctx context.Context, rec *domain.Recording, job *domain.ScheduledJob, cmd *exec.Cmd, stderr *bytes.Buffer, outputPath string, seconds, bitrateKbps int) {
	waitErr, timedOut := waitWithTimeout(cmd, time.Duration(seconds)*time.Second+safetyTimeoutGrace)

	// When Stop already claimed the registry entry the process died
	// because it was asked to; whatever got captured counts as a
	// completed recording, never an error.
	if stopped := !s.registry.remove(rec.ID); stopped {
		s.finalizer.Finalize(ctx, rec, domain.RecordingConcluido, outputPath, seconds, job)
		return
	}

	info, statErr := os.Stat(outputPath)
	exists := statErr == nil
	var size int64
	if exists {
		size = info.Size()
	}
	probed, probeOK := ProbeDurationSeconds(ctx, s.probeBin, outputPath)

	if waitErr == nil && !timedOut && outputAcceptable(exists, size, probed, probeOK, seconds, bitrateKbps) {
		s.finalizer.Finalize(ctx, rec, domain.RecordingConcluido, outputPath, seconds, job)
		return
	}

	s.logger.Error("capture process failed",
		zap.String("recording_id", rec.ID),
		zap.Bool("timed_out", timedOut),
		zap.Bool("file_exists", exists),
		zap.Int64("file_size", size),
		zap.Int("probed_duration", probed),
		zap.Error(waitErr),
		zap.String("stderr", truncate(stderr.String(), 2000)),
	)
	s.finalizer.Finalize(ctx, rec, domain.RecordingErro, outputPath, seconds, job)
}

// waitWithTimeout waits for the process to exit, terminating it when the
// safety timeout elapses (SIGTERM, then SIGKILL if it lingers).
func waitWithTimeout(cmd *exec.Cmd, timeout time.Duration) (err error, timedOut bool) {
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err, false
	case <-timer.C:
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-done:
			return err, true
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			return <-done, true
		}
	}
}

// Stop terminates any registered process for the recording; whatever
// was captured so far finalizes as concluido. When a live process is
// signalled, its supervising goroutine commits the final state after
// reaping it, so the stored metadata reflects the flushed file.
func (s *Supervisor) Stop(ctx context.Context, rec *domain.Recording) {
	if s.registry.stop(rec.ID) {
		s.logger.Info("capture process terminated on request", zap.String("recording_id", rec.ID))
		return
	}

	s.finalizer.Finalize(ctx, rec, domain.RecordingConcluido, s.audioPath(rec), 0, nil)
}

// ActiveCaptures reports how many capture processes are registered.
func (s *Supervisor) ActiveCaptures() int {
	return s.registry.len()
}

func (s *Supervisor) audioPath(rec *domain.Recording) string {
	name := rec.ArquivoNome
	if name == "" && rec.ArquivoURL != "" {
		name = filepath.Base(rec.ArquivoURL)
	}
	if name == "" {
		return ""
	}
	return filepath.Join(s.audioDir, name)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
