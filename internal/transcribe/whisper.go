package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// CLIEngine shells out to a whisper.cpp command-line binary and parses
// its timestamped output stream. The binary prints one line per decoded
// segment on stdout, so segments can be consumed while decoding runs.
type CLIEngine struct {
	Executable string
	ModelPath  string
	Device     string
	Logger     *zap.Logger
}

// knownModels maps the short model names accepted in configuration to
// the ggml files whisper.cpp distributes.
var knownModels = map[string]string{
	"tiny":     "ggml-tiny.bin",
	"base":     "ggml-base.bin",
	"small":    "ggml-small.bin",
	"medium":   "ggml-medium.bin",
	"large-v3": "ggml-large-v3.bin",
}

// NewCLIEngine resolves the whisper binary and model file. The binary
// comes from CLIPRADIO_WHISPER_PATH or PATH lookup; the model reference
// is either a short name resolved inside modelDir or a direct file path.
func NewCLIEngine(modelRef, modelDir, device string, logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	executable := strings.TrimSpace(os.Getenv("CLIPRADIO_WHISPER_PATH"))
	if executable == "" {
		found, err := exec.LookPath("whisper-cli")
		if err != nil {
			return nil, fmt.Errorf("whisper-cli not found in PATH; set CLIPRADIO_WHISPER_PATH: %w", err)
		}
		executable = found
	}

	modelPath, err := resolveModelPath(modelRef, modelDir)
	if err != nil {
		return nil, err
	}

	return &CLIEngine{Executable: executable, ModelPath: modelPath, Device: device, Logger: logger}, nil
}

func resolveModelPath(modelRef, modelDir string) (string, error) {
	ref := strings.TrimSpace(modelRef)
	if ref == "" {
		return "", errors.New("transcription model is not configured")
	}

	if fileName, ok := knownModels[ref]; ok {
		path := filepath.Join(modelDir, fileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("model %q not found at %s: %w", ref, path, err)
		}
		return path, nil
	}

	if _, err := os.Stat(ref); err != nil {
		return "", fmt.Errorf("model path %s: %w", ref, err)
	}
	return ref, nil
}

func (e *CLIEngine) buildArgs(req Request) []string {
	args := []string{"-m", e.ModelPath, "-f", req.Path}
	lang := strings.TrimSpace(req.Language)
	if lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(req.BeamSize))
	}
	if req.BestOf > 0 {
		args = append(args, "-bo", strconv.Itoa(req.BestOf))
	}
	if req.VAD {
		args = append(args, "--vad")
		if req.VADMinSilenceMS > 0 {
			args = append(args, "--vad-min-silence-duration-ms", strconv.Itoa(req.VADMinSilenceMS))
		}
	}
	if strings.EqualFold(e.Device, "cpu") {
		args = append(args, "-ng")
	}
	return args
}

func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, errors.New("audio path is required")
	}

	args := e.buildArgs(req)
	cmd := exec.CommandContext(ctx, e.Executable, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.Logger.Debug("running whisper engine",
		zap.String("engine", e.Executable),
		zap.Strings("args", args),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper engine: %w", err)
	}

	res := &Result{}
	res.Segments = &cliSegments{
		scanner: bufio.NewScanner(stdout),
		cmd:     cmd,
		stderr:  &stderr,
		res:     res,
	}
	return res, nil
}

// segmentLine matches whisper.cpp's timestamped output, e.g.
// [00:00:00.000 --> 00:00:04.280]  Bom dia, Fortaleza.
var segmentLine = regexp.MustCompile(`^\[(\d{2}):(\d{2}):(\d{2})[.,](\d{3}) --> (\d{2}):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)

var detectedLanguageLine = regexp.MustCompile(`auto-detected language:\s*([a-zA-Z-]+)`)

func parseSegmentLine(line string) (Segment, bool) {
	m := segmentLine.FindStringSubmatch(line)
	if m == nil {
		return Segment{}, false
	}
	return Segment{
		Start: timestampSeconds(m[1], m[2], m[3], m[4]),
		End:   timestampSeconds(m[5], m[6], m[7], m[8]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

func timestampSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	milli, _ := strconv.Atoi(ms)
	return float64(h*3600+m*60+s) + float64(milli)/1000
}

// cliSegments streams segment lines from the running process. Draining
// the stream waits for the process and finalizes the detected language
// on the shared result.
type cliSegments struct {
	scanner *bufio.Scanner
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	res     *Result

	cur      Segment
	err      error
	finished bool
}

func (c *cliSegments) Next() bool {
	if c.finished {
		return false
	}
	for c.scanner.Scan() {
		seg, ok := parseSegmentLine(c.scanner.Text())
		if !ok {
			continue
		}
		c.cur = seg
		if seg.End > c.res.Duration {
			c.res.Duration = seg.End
		}
		return true
	}
	c.finish()
	return false
}

func (c *cliSegments) finish() {
	c.finished = true
	if err := c.scanner.Err(); err != nil {
		c.err = err
	}
	waitErr := c.cmd.Wait()
	errText := strings.TrimSpace(c.stderr.String())
	if waitErr != nil && c.err == nil {
		c.err = fmt.Errorf("whisper engine failed: %w (%s)", waitErr, errText)
	}
	if m := detectedLanguageLine.FindStringSubmatch(errText); m != nil {
		c.res.Language = strings.ToLower(m[1])
	}
}

func (c *cliSegments) Segment() Segment { return c.cur }

func (c *cliSegments) Err() error { return c.err }

// Close reaps the engine process when the stream is abandoned before
// draining, so an interrupted transcription never leaks a child stuck
// writing to a full pipe. Closing a drained stream is a no-op.
func (c *cliSegments) Close() error {
	if c.finished {
		return nil
	}
	c.finished = true
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}
