// Package config provides configuration management for vidprofile.
// Configuration is loaded from environment variables with sensible defaults.
// Outside production an optional .env file in the working directory is
// loaded first; variables already set in the environment win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort            = 8790
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".vidprofile"
	DefaultBlobBackend     = "minio"
	DefaultMinioEndpoint   = "minio:9000"
	DefaultMinioAccessKey  = "minioadmin"
	DefaultMinioSecretKey  = "minioadmin"
	DefaultMinioBucket     = "video-profiles"
	DefaultPresignTTL      = time.Hour
	DefaultBlobRetries     = 2
	DefaultMaxExtractions  = 2
	DefaultExtractTimeout  = 30 * time.Minute
	DefaultMetadataTimeout = 30 * time.Second

	// Environment variable names
	EnvAppEnv          = "VIDPROFILE_ENV"
	EnvPort            = "VIDPROFILE_PORT"
	EnvBindHost        = "VIDPROFILE_BIND_HOST"
	EnvLogLevel        = "VIDPROFILE_LOG_LEVEL"
	EnvDataDir         = "VIDPROFILE_DATA_DIR"
	EnvScratchDir      = "VIDPROFILE_SCRATCH_DIR"
	EnvBlobBackend     = "VIDPROFILE_BLOB_BACKEND"
	EnvBlobRetries     = "VIDPROFILE_BLOB_RETRIES"
	EnvPresignTTL      = "VIDPROFILE_PRESIGN_TTL"
	EnvPublicBaseURL   = "VIDPROFILE_PUBLIC_BASE_URL"
	EnvMaxExtractions  = "VIDPROFILE_MAX_EXTRACTIONS"
	EnvExtractTimeout  = "VIDPROFILE_EXTRACT_TIMEOUT"
	EnvMetadataTimeout = "VIDPROFILE_METADATA_TIMEOUT"
	EnvFFmpegPath      = "VIDPROFILE_FFMPEG"
	EnvFFprobePath     = "VIDPROFILE_FFPROBE"
	EnvYTDLPPath       = "VIDPROFILE_YTDLP"
	EnvCORSOrigins     = "VIDPROFILE_CORS_ORIGINS"

	// MinIO / S3 variable names
	EnvMinioEndpoint  = "MINIO_ENDPOINT"
	EnvMinioAccessKey = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "MINIO_SECRET_KEY"
	EnvMinioBucket    = "MINIO_BUCKET"
	EnvMinioUseSSL    = "MINIO_USE_SSL"
	EnvMinioRegion    = "MINIO_REGION"

	// Database filename
	DBFilename = "vidprofile.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Addr() string
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	LocalBlobDir() string

	BlobBackend() string
	BlobRetries() int
	PresignTTL() time.Duration
	PublicBaseURL() string
	MinioEndpoint() string
	MinioAccessKey() string
	MinioSecretKey() string
	MinioBucket() string
	MinioUseSSL() bool
	MinioRegion() string

	MaxExtractions() int
	ExtractTimeout() time.Duration
	MetadataTimeout() time.Duration
	FFmpegPath() string
	FFprobePath() string
	YTDLPPath() string
	CORSOrigins() []string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	bindHost   string
	logLevel   string
	dataDir    string
	scratchDir string

	blobBackend   string
	blobRetries   int
	presignTTL    time.Duration
	publicBaseURL string

	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioBucket    string
	minioUseSSL    bool
	minioRegion    string

	maxExtractions  int
	extractTimeout  time.Duration
	metadataTimeout time.Duration
	ffmpegPath      string
	ffprobePath     string
	ytdlpPath       string
	corsOrigins     []string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	if os.Getenv(EnvAppEnv) != "production" {
		// Missing .env is the normal case.
		_ = godotenv.Load()
	}

	cfg := &EnvConfig{
		port:            DefaultPort,
		bindHost:        "127.0.0.1",
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		blobBackend:     DefaultBlobBackend,
		blobRetries:     DefaultBlobRetries,
		presignTTL:      DefaultPresignTTL,
		minioEndpoint:   DefaultMinioEndpoint,
		minioAccessKey:  DefaultMinioAccessKey,
		minioSecretKey:  DefaultMinioSecretKey,
		minioBucket:     DefaultMinioBucket,
		maxExtractions:  DefaultMaxExtractions,
		extractTimeout:  DefaultExtractTimeout,
		metadataTimeout: DefaultMetadataTimeout,
		ffmpegPath:      "ffmpeg",
		ffprobePath:     "ffprobe",
		ytdlpPath:       "yt-dlp",
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if h := os.Getenv(EnvBindHost); h != "" {
		cfg.bindHost = h
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	cfg.scratchDir = os.Getenv(EnvScratchDir)

	if b := os.Getenv(EnvBlobBackend); b != "" {
		b = strings.ToLower(b)
		if b != "minio" && b != "local" {
			return nil, fmt.Errorf("invalid %s: must be minio or local", EnvBlobBackend)
		}
		cfg.blobBackend = b
	}

	var err error
	if cfg.blobRetries, err = intFromEnv(EnvBlobRetries, cfg.blobRetries, 0); err != nil {
		return nil, err
	}
	if cfg.maxExtractions, err = intFromEnv(EnvMaxExtractions, cfg.maxExtractions, 1); err != nil {
		return nil, err
	}
	if cfg.presignTTL, err = durationFromEnv(EnvPresignTTL, cfg.presignTTL); err != nil {
		return nil, err
	}
	if cfg.extractTimeout, err = durationFromEnv(EnvExtractTimeout, cfg.extractTimeout); err != nil {
		return nil, err
	}
	if cfg.metadataTimeout, err = durationFromEnv(EnvMetadataTimeout, cfg.metadataTimeout); err != nil {
		return nil, err
	}

	cfg.publicBaseURL = strings.TrimRight(os.Getenv(EnvPublicBaseURL), "/")

	if v := os.Getenv(EnvMinioEndpoint); v != "" {
		cfg.minioEndpoint = v
	}
	if v := os.Getenv(EnvMinioAccessKey); v != "" {
		cfg.minioAccessKey = v
	}
	if v := os.Getenv(EnvMinioSecretKey); v != "" {
		cfg.minioSecretKey = v
	}
	if v := os.Getenv(EnvMinioBucket); v != "" {
		cfg.minioBucket = v
	}
	if v := os.Getenv(EnvMinioUseSSL); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMinioUseSSL, err)
		}
		cfg.minioUseSSL = useSSL
	}
	cfg.minioRegion = os.Getenv(EnvMinioRegion)

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		cfg.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobePath); v != "" {
		cfg.ffprobePath = v
	}
	if v := os.Getenv(EnvYTDLPPath); v != "" {
		cfg.ytdlpPath = v
	}
	for _, o := range strings.Split(os.Getenv(EnvCORSOrigins), ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			cfg.corsOrigins = append(cfg.corsOrigins, o)
		}
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Addr returns the HTTP listen address
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.bindHost, c.port)
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir returns the parent directory for per-operation scratch files.
// Empty means the OS temp directory.
func (c *EnvConfig) ScratchDir() string {
	return c.scratchDir
}

// LocalBlobDir returns the root of the local blob backend
func (c *EnvConfig) LocalBlobDir() string {
	return filepath.Join(c.dataDir, "blobs")
}

func (c *EnvConfig) BlobBackend() string {
	return c.blobBackend
}

func (c *EnvConfig) BlobRetries() int {
	return c.blobRetries
}

func (c *EnvConfig) PresignTTL() time.Duration {
	return c.presignTTL
}

// PublicBaseURL is the externally reachable base URL used in local-backend
// download links. Defaults to the listen address.
func (c *EnvConfig) PublicBaseURL() string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL
	}
	return "http://" + c.Addr()
}

func (c *EnvConfig) MinioEndpoint() string {
	return c.minioEndpoint
}

func (c *EnvConfig) MinioAccessKey() string {
	return c.minioAccessKey
}

func (c *EnvConfig) MinioSecretKey() string {
	return c.minioSecretKey
}

func (c *EnvConfig) MinioBucket() string {
	return c.minioBucket
}

func (c *EnvConfig) MinioUseSSL() bool {
	return c.minioUseSSL
}

func (c *EnvConfig) MinioRegion() string {
	return c.minioRegion
}

func (c *EnvConfig) MaxExtractions() int {
	return c.maxExtractions
}

func (c *EnvConfig) ExtractTimeout() time.Duration {
	return c.extractTimeout
}

func (c *EnvConfig) MetadataTimeout() time.Duration {
	return c.metadataTimeout
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) YTDLPPath() string {
	return c.ytdlpPath
}

// CORSOrigins lists browser origins allowed to call the API. Loopback
// origins are always allowed.
func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

func intFromEnv(name string, def, min int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < min {
		return 0, fmt.Errorf("invalid %s: must be >= %d", name, min)
	}
	return n, nil
}

func durationFromEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
