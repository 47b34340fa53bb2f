package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidprofile/vidprofile/internal/api"
	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/clip"
	"github.com/vidprofile/vidprofile/internal/config"
	"github.com/vidprofile/vidprofile/internal/db"
	"github.com/vidprofile/vidprofile/internal/logging"
	"github.com/vidprofile/vidprofile/internal/metadata"
	"github.com/vidprofile/vidprofile/internal/playback"
	"github.com/vidprofile/vidprofile/internal/processing"
)

var Version = "0.1.0"

const blobSigningKey = "blob_signing_key"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting vidprofile", "version", Version, "data_dir", cfg.DataDir(), "blob_backend", cfg.BlobBackend())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureSecret(repo, api.AuthTokenKey)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Printf("  vidprofile v%s\n", Version)
	fmt.Printf("  API URL:    http://%s\n", cfg.Addr())
	fmt.Printf("  Auth Token: %s\n", authToken)
	fmt.Println()

	gateway, localBlobs, err := newGateway(cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	lookup := metadata.NewYTDLPLookup(cfg.YTDLPPath(), cfg.MetadataTimeout(), logger)
	catalogSvc := catalog.NewService(repo, logger,
		catalog.WithMetadataLookup(lookup),
		catalog.WithDefaultBucket(gateway.DefaultBucket()),
	)

	upgradeCtx, upgradeCancel := context.WithTimeout(context.Background(), time.Minute)
	_, err = catalogSvc.UpgradeLedgers(upgradeCtx)
	upgradeCancel()
	if err != nil {
		// Undecodable rows are left as they are; the rest were upgraded.
		logger.Warn("some stored ledgers could not be upgraded", "error", err)
	}

	clipCfg := clip.DefaultConfig(logger)
	clipCfg.FFmpegPath = cfg.FFmpegPath()
	clipCfg.FFprobePath = cfg.FFprobePath()
	clipCfg.ExtractTimeout = cfg.ExtractTimeout()
	engine := clip.NewFFmpegEngine(clipCfg)

	doctor := clip.NewDoctor(clip.Tools{
		FFmpeg:  cfg.FFmpegPath(),
		FFprobe: cfg.FFprobePath(),
		YTDLP:   cfg.YTDLPPath(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		probeCtx, probeCancel := context.WithTimeout(ctx, 30*time.Second)
		defer probeCancel()
		if _, err := doctor.Refresh(probeCtx); err != nil {
			logger.Warn("initial tool probe failed", "error", err)
		}
	}()

	procCfg := processing.DefaultConfig()
	procCfg.ScratchDir = cfg.ScratchDir()
	procCfg.MaxExtractions = int64(cfg.MaxExtractions())
	procCfg.BlobRetries = cfg.BlobRetries()
	processor := processing.New(catalogSvc, gateway, engine, procCfg, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Addr:        cfg.Addr(),
		Catalog:     catalogSvc,
		Processor:   processor,
		Gateway:     gateway,
		BlobBackend: cfg.BlobBackend(),
		LocalBlobs:  localBlobs,
		Playback:    playback.NewServer(logger),
		Config:      repo,
		Doctor:      doctor,
		PresignTTL:  cfg.PresignTTL(),
		CORSOrigins: cfg.CORSOrigins(),
		Logger:      logger,
		StartTime:   startTime,
		Version:     Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newGateway builds the configured blob backend. The second result is only
// set for the local backend, whose links the API serves itself.
func newGateway(cfg config.Config, repo catalog.Repository, logger *slog.Logger) (blobstore.Gateway, *blobstore.LocalGateway, error) {
	if cfg.BlobBackend() == "local" {
		secret, err := ensureSecret(repo, blobSigningKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to ensure blob signing key: %w", err)
		}
		local, err := blobstore.NewLocalGateway(cfg.LocalBlobDir(), cfg.MinioBucket(), cfg.PublicBaseURL(), []byte(secret), logger)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	}

	gw, err := blobstore.NewMinioGateway(blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint(),
		AccessKey: cfg.MinioAccessKey(),
		SecretKey: cfg.MinioSecretKey(),
		Bucket:    cfg.MinioBucket(),
		Region:    cfg.MinioRegion(),
		UseSSL:    cfg.MinioUseSSL(),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return gw, nil, nil
}

// ensureSecret returns the random hex value stored under key, creating it on
// first run.
func ensureSecret(repo catalog.Repository, key string) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	value := hex.EncodeToString(b)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}

	return value, nil
}
