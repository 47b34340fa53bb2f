// Package metadata locates source videos on YouTube and looks up their
// descriptive metadata with yt-dlp.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/vidprofile/vidprofile/internal/prompt"
	"github.com/vidprofile/vidprofile/internal/proc"
)

var (
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrInvalidURL          = errors.New("not a recognized YouTube URL")
)

var youtubeRe = regexp.MustCompile(`(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/(watch\?v=|embed/|v/|.+\?v=)?([^&=%\?]{11})`)

// ParseVideoID extracts the 11-character video id from a YouTube URL.
func ParseVideoID(rawURL string) (string, error) {
	m := youtubeRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return m[6], nil
}

// Info is the descriptive metadata of one source video.
type Info struct {
	VideoID     string   `json:"video_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Duration    float64  `json:"duration"`
	ViewCount   int64    `json:"view_count"`
	LikeCount   int64    `json:"like_count"`
}

// Prompt converts the info into template expansion values.
func (i *Info) Prompt() prompt.Metadata {
	return prompt.Metadata{
		Link:        i.URL,
		Title:       i.Title,
		Description: i.Description,
		Tags:        i.Tags,
		Uploader:    i.Uploader,
		Channel:     i.Channel,
		Duration:    i.Duration,
		ViewCount:   i.ViewCount,
		LikeCount:   i.LikeCount,
	}
}

// Lookup resolves a source URL to its metadata. Every failure wraps
// ErrMetadataUnavailable.
type Lookup interface {
	Lookup(ctx context.Context, url string) (*Info, error)
}

// YTDLPLookup runs `yt-dlp --dump-json --skip-download`.
type YTDLPLookup struct {
	path    string
	timeout time.Duration
	runner  *proc.Runner
	logger  *slog.Logger
}

func NewYTDLPLookup(path string, timeout time.Duration, logger *slog.Logger) *YTDLPLookup {
	if path == "" {
		path = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPLookup{path: path, timeout: timeout, runner: proc.NewRunner(logger), logger: logger}
}

type ytdlpInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Duration    float64  `json:"duration"`
	ViewCount   int64    `json:"view_count"`
	LikeCount   int64    `json:"like_count"`
	WebpageURL  string   `json:"webpage_url"`
}

func (l *YTDLPLookup) Lookup(ctx context.Context, url string) (*Info, error) {
	id, err := ParseVideoID(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}

	res := l.runner.Run(ctx, proc.Command{
		Path: l.path,
		Args: []string{
			"--dump-json",
			"--skip-download",
			"--no-playlist",
			"--no-warnings",
			"https://www.youtube.com/watch?v=" + id,
		},
		CaptureStdout: true,
		Timeout:       l.timeout,
	})
	if !res.IsSuccess() {
		cause := res.Err
		if cause == nil {
			cause = fmt.Errorf("yt-dlp exited %d: %s", res.ExitCode, proc.Truncate(res.StderrTail, 256))
		}
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, cause)
	}

	info, err := parseInfo(res.Stdout, url)
	if err != nil {
		return nil, err
	}
	if l.logger != nil {
		l.logger.Debug("metadata lookup complete", "video_id", info.VideoID, "title", info.Title)
	}
	return info, nil
}

func parseInfo(data []byte, url string) (*Info, error) {
	var raw ytdlpInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse yt-dlp output: %v", ErrMetadataUnavailable, err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("%w: yt-dlp output has no id", ErrMetadataUnavailable)
	}
	channel := raw.Channel
	if channel == "" {
		channel = raw.Uploader
	}
	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}
	return &Info{
		VideoID:     raw.ID,
		URL:         url,
		Title:       raw.Title,
		Description: raw.Description,
		Tags:        tags,
		Uploader:    raw.Uploader,
		Channel:     channel,
		Duration:    raw.Duration,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
	}, nil
}
