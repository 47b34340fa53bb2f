// Package playback streams stored clips over HTTP with single byte-range
// support so players can seek.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/logging"
)

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.OrDiscard(logger)}
}

// Serve writes f to w, honoring a Range header. name is only used to pick a
// content type. The caller closes f.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, f *os.File, name string) error {
	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", blobstore.ContentType(name))
	w.Header().Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	switch err {
	case nil:
	case ErrUnsatisfiable:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case ErrInvalidRange:
		// Malformed ranges are ignored and the whole object is sent.
		parsed = nil
	default:
		return err
	}

	if parsed == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, f, size)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	w.Header().Set("Content-Range", parsed.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := f.Seek(parsed.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	s.copy(w, f, parsed.ContentLength())
	return nil
}

func (s *Server) copy(w io.Writer, f *os.File, n int64) {
	if _, err := io.CopyN(w, f, n); err != nil && err != io.EOF {
		// The client usually hung up; headers are already sent.
		s.logger.Debug("blob stream interrupted", "error", err)
	}
}
