// Package clip cuts sub-clips out of local video files with ffmpeg and
// probes their duration with ffprobe.
package clip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vidprofile/vidprofile/internal/proc"
)

var (
	ErrInvalidRange = errors.New("invalid clip range")
	ErrCodecFailure = errors.New("codec failure")
)

// Engine is the clip extraction contract the processor depends on.
type Engine interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Extract(ctx context.Context, inPath, outPath string, start, end float64) error
}

type Config struct {
	FFmpegPath     string
	FFprobePath    string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
	Logger         *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		ProbeTimeout:   30 * time.Second,
		ExtractTimeout: 30 * time.Minute,
		Logger:         logger,
	}
}

// FFmpegEngine is the production Engine.
type FFmpegEngine struct {
	cfg    Config
	runner *proc.Runner
}

func NewFFmpegEngine(cfg Config) *FFmpegEngine {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &FFmpegEngine{cfg: cfg, runner: proc.NewRunner(cfg.Logger)}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of path in seconds.
func (e *FFmpegEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res := e.runner.Run(ctx, proc.Command{
		Path: e.cfg.FFprobePath,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "json",
			path,
		},
		CaptureStdout: true,
		Timeout:       e.cfg.ProbeTimeout,
	})
	if !res.IsSuccess() {
		return 0, codecError("probe", res)
	}
	return parseProbeDuration(res.Stdout)
}

func parseProbeDuration(data []byte) (float64, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("%w: parse ffprobe output: %v", ErrCodecFailure, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: no usable duration in ffprobe output %q", ErrCodecFailure, out.Format.Duration)
	}
	return d, nil
}

// Extract re-encodes [start, end) of inPath into outPath as H.264/AAC,
// overwriting outPath.
func (e *FFmpegEngine) Extract(ctx context.Context, inPath, outPath string, start, end float64) error {
	if err := ValidateRange(start, end); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	res := e.runner.Run(ctx, proc.Command{
		Path:    e.cfg.FFmpegPath,
		Args:    ExtractArgs(inPath, outPath, start, end),
		Timeout: e.cfg.ExtractTimeout,
	})
	if !res.IsSuccess() {
		return codecError("extract", res)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: ffmpeg produced no output", ErrCodecFailure)
	}
	return nil
}

// ExtractArgs builds the ffmpeg argument list for a cut. Seeking happens on
// the input and the length is given as a duration.
func ExtractArgs(inPath, outPath string, start, end float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", formatSeconds(start),
		"-i", inPath,
		"-t", formatSeconds(end - start),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outPath,
	}
}

// ValidateRange checks 0 <= start < end.
func ValidateRange(start, end float64) error {
	if start < 0 {
		return fmt.Errorf("%w: start %v is negative", ErrInvalidRange, start)
	}
	if end <= start {
		return fmt.Errorf("%w: end %v must be greater than start %v", ErrInvalidRange, end, start)
	}
	return nil
}

// Clamp fits [start, end) inside [0, duration]. It fails with ErrInvalidRange
// when nothing is left.
func Clamp(start, end, duration float64) (float64, float64, error) {
	if start < 0 {
		start = 0
	}
	if end > duration {
		end = duration
	}
	if start >= end {
		return start, end, fmt.Errorf("%w: range is empty after clamping to duration %v", ErrInvalidRange, duration)
	}
	return start, end, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func codecError(op string, res proc.Result) error {
	if res.Err != nil && errors.Is(res.Err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, res.Err)
	}
	return fmt.Errorf("%w: %s exited %d: %s", ErrCodecFailure, op, res.ExitCode, proc.Truncate(res.StderrTail, 512))
}
