// Package proc runs external tools (ffmpeg, ffprobe, yt-dlp) as subprocesses
// and returns a structured result with a bounded stderr tail.
package proc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024         // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 16 * 1024 * 1024 // yt-dlp info JSON can be several MB
)

// ErrOutputTooLarge is set on a Result whose stdout exceeded the capture cap.
var ErrOutputTooLarge = errors.New("subprocess output exceeds capture limit")

// Command describes one subprocess invocation.
type Command struct {
	Path          string
	Args          []string
	CaptureStdout bool
	Timeout       time.Duration // zero means no extra deadline beyond ctx
}

// Result is the structured outcome of a subprocess.
type Result struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
	// Err is set when the process could not be started, was killed by the
	// context, or produced more stdout than can be captured.
	Err error
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// Runner executes Commands. The zero value is usable and logs nothing.
type Runner struct {
	Logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run executes cmd and waits for it to exit.
func (r *Runner) Run(ctx context.Context, cmd Command) Result {
	start := time.Now()

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)

	var stderrBuf bytes.Buffer
	c.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	var stdout *headWriter
	if cmd.CaptureStdout {
		stdout = &headWriter{limit: maxStdoutBytes}
		c.Stdout = stdout
	} else {
		c.Stdout = io.Discard
	}

	r.debug("executing command", "path", cmd.Path, "args", cmd.Args)

	err := c.Run()
	elapsed := time.Since(start)

	res := Result{Duration: elapsed, StderrTail: stderrBuf.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = err
			if res.StderrTail == "" {
				res.StderrTail = err.Error()
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Err = ctxErr
		}
	}
	if stdout != nil {
		res.Stdout = stdout.buf.Bytes()
		if stdout.overflow && res.Err == nil {
			res.Err = ErrOutputTooLarge
		}
	}

	if !res.IsSuccess() {
		r.warn("command failed",
			"path", cmd.Path,
			"exit_code", res.ExitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", Truncate(res.StderrTail, 512),
		)
	} else {
		r.debug("command succeeded", "path", cmd.Path, "duration_ms", elapsed.Milliseconds())
	}

	return res
}

func (r *Runner) debug(msg string, args ...any) {
	if r != nil && r.Logger != nil {
		r.Logger.Debug(msg, args...)
	}
}

func (r *Runner) warn(msg string, args ...any) {
	if r != nil && r.Logger != nil {
		r.Logger.Warn(msg, args...)
	}
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// headWriter keeps the first `limit` bytes and records whether more arrived.
type headWriter struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (hw *headWriter) Write(p []byte) (int, error) {
	n := len(p)
	room := hw.limit - hw.buf.Len()
	if room <= 0 {
		hw.overflow = true
		return n, nil
	}
	if len(p) > room {
		p = p[:room]
		hw.overflow = true
	}
	hw.buf.Write(p)
	return n, nil
}
