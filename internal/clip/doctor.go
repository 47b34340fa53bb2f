package clip

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vidprofile/vidprofile/internal/proc"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo is the availability of one external executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which external tools the service can use.
type Capabilities struct {
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`
	YTDLP   ToolInfo `json:"yt_dlp"`

	CanExtract bool      `json:"can_extract"`
	CanLookup  bool      `json:"can_lookup"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Tools names the executables the doctor probes.
type Tools struct {
	FFmpeg  string
	FFprobe string
	YTDLP   string
}

// Doctor probes tool availability and caches the result for a TTL.
type Doctor struct {
	tools  Tools
	runner *proc.Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(tools Tools, logger *slog.Logger) *Doctor {
	return &Doctor{
		tools:  tools,
		runner: proc.NewRunner(logger),
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe result without probing, or nil.
func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes every tool concurrently regardless of cache freshness.
func (d *Doctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var caps Capabilities
	var g errgroup.Group
	g.Go(func() error {
		caps.FFmpeg = d.probe(ctx, d.tools.FFmpeg, "-version")
		return nil
	})
	g.Go(func() error {
		caps.FFprobe = d.probe(ctx, d.tools.FFprobe, "-version")
		return nil
	})
	g.Go(func() error {
		caps.YTDLP = d.probe(ctx, d.tools.YTDLP, "--version")
		return nil
	})
	g.Wait()

	// A cancelled probe says nothing about the tools.
	if err := ctx.Err(); err != nil {
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	caps.CanExtract = caps.FFmpeg.Available && caps.FFprobe.Available
	caps.CanLookup = caps.YTDLP.Available
	caps.ProbedAt = time.Now()
	d.cached = &caps

	if d.logger != nil {
		d.logger.Info("doctor probe complete",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
			"yt_dlp", caps.YTDLP.Available,
		)
	}
	return &caps, nil
}

// Invalidate clears the cached capabilities.
func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Doctor) probe(ctx context.Context, path, flag string) ToolInfo {
	if path == "" {
		return ToolInfo{Error: "not configured"}
	}
	res := d.runner.Run(ctx, proc.Command{
		Path:          path,
		Args:          []string{flag},
		CaptureStdout: true,
		Timeout:       10 * time.Second,
	})
	if !res.IsSuccess() {
		msg := strings.TrimSpace(res.StderrTail)
		if msg == "" && res.Err != nil {
			msg = res.Err.Error()
		}
		return ToolInfo{Error: proc.Truncate(msg, 256)}
	}
	return ToolInfo{Available: true, Version: firstLine(string(res.Stdout))}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
