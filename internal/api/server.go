package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/clip"
	"github.com/vidprofile/vidprofile/internal/playback"
	"github.com/vidprofile/vidprofile/internal/processing"
)

// SegmentProcessor runs segment operations. *processing.Processor
// implements it.
type SegmentProcessor interface {
	ProcessSegment(ctx context.Context, recordID string, req processing.SegmentRequest) (*processing.LedgerUpdate, error)
	ProcessPending(ctx context.Context, recordID string) ([]processing.Outcome, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr        string
	Catalog     *catalog.Service
	Processor   SegmentProcessor
	Gateway     blobstore.Gateway
	BlobBackend string
	// LocalBlobs serves signed download links; nil unless the local
	// backend is in use.
	LocalBlobs  *blobstore.LocalGateway
	Playback    *playback.Server
	Config      ConfigStore
	Doctor      *clip.Doctor
	PresignTTL  time.Duration
	CORSOrigins []string
	Logger      *slog.Logger
	StartTime   time.Time
	Version     string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			// Segment processing and blob downloads can run for minutes.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
