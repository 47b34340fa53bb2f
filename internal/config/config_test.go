package config

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvBlobBackend, "")
	t.Setenv(EnvMinioBucket, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.BlobBackend() != "minio" {
		t.Errorf("BlobBackend = %q, want minio", cfg.BlobBackend())
	}
	if cfg.MinioBucket() != DefaultMinioBucket {
		t.Errorf("MinioBucket = %q, want %q", cfg.MinioBucket(), DefaultMinioBucket)
	}
	if cfg.PresignTTL() != time.Hour {
		t.Errorf("PresignTTL = %v, want 1h", cfg.PresignTTL())
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvDataDir, "/srv/vidprofile")
	t.Setenv(EnvBlobBackend, "LOCAL")
	t.Setenv(EnvBlobRetries, "5")
	t.Setenv(EnvPresignTTL, "15m")
	t.Setenv(EnvMinioUseSSL, "true")
	t.Setenv(EnvCORSOrigins, "https://studio.example.com/, ,http://localhost:5173")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port())
	}
	if cfg.DBPath() != "/srv/vidprofile/"+DBFilename {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.BlobBackend() != "local" {
		t.Errorf("BlobBackend = %q, want local", cfg.BlobBackend())
	}
	if cfg.BlobRetries() != 5 {
		t.Errorf("BlobRetries = %d, want 5", cfg.BlobRetries())
	}
	if cfg.PresignTTL() != 15*time.Minute {
		t.Errorf("PresignTTL = %v, want 15m", cfg.PresignTTL())
	}
	if !cfg.MinioUseSSL() {
		t.Error("MinioUseSSL = false, want true")
	}
	if cfg.PublicBaseURL() != "http://127.0.0.1:9001" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL())
	}
	if got := cfg.CORSOrigins(); len(got) != 2 || got[0] != "https://studio.example.com" {
		t.Errorf("CORSOrigins = %v", got)
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"unknown backend", EnvBlobBackend, "gcs"},
		{"negative retries", EnvBlobRetries, "-1"},
		{"zero extractions", EnvMaxExtractions, "0"},
		{"bad ttl", EnvPresignTTL, "soon"},
		{"bad ssl flag", EnvMinioUseSSL, "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvAppEnv, "production")
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}
