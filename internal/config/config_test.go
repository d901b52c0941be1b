package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.StorageDriver != DriverSQLite {
		t.Errorf("StorageDriver = %q, want sqlite", cfg.StorageDriver)
	}
	if cfg.WorkerBatchSize != 10 || cfg.PollIntervalSeconds != 1 || cfg.VisibilitySeconds != 60 {
		t.Errorf("worker settings = %d/%d/%d, want 10/1/60",
			cfg.WorkerBatchSize, cfg.PollIntervalSeconds, cfg.VisibilitySeconds)
	}
	if cfg.MaxImageWidth != 200 || cfg.MaxImageHeight != 200 {
		t.Errorf("image limits = %dx%d, want 200x200", cfg.MaxImageWidth, cfg.MaxImageHeight)
	}
	if cfg.InlineImages {
		t.Error("InlineImages = true, want off by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DB_PATH", "/tmp/relay.db")
	t.Setenv("SES_REGION", "eu-west-1")
	t.Setenv("INLINE_IMAGES", "true")

	cfg := Load()
	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
	if cfg.DBPath != "/tmp/relay.db" {
		t.Errorf("DBPath = %q, want /tmp/relay.db", cfg.DBPath)
	}
	if cfg.SESRegion != "eu-west-1" {
		t.Errorf("SESRegion = %q, want eu-west-1", cfg.SESRegion)
	}
	if !cfg.InlineImages {
		t.Error("InlineImages = false, want true")
	}
}

func TestLoadStorageAndWorkerKnobs(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("WORKER_BATCH_SIZE", "25")
	t.Setenv("POLL_INTERVAL_SECONDS", "5")
	t.Setenv("VISIBILITY_SECONDS", "120")

	cfg := Load()
	if cfg.StorageDriver != DriverMemory {
		t.Errorf("StorageDriver = %q, want memory (lowercased)", cfg.StorageDriver)
	}
	if cfg.WorkerBatchSize != 25 {
		t.Errorf("WorkerBatchSize = %d, want 25", cfg.WorkerBatchSize)
	}
	if cfg.PollIntervalSeconds != 5 {
		t.Errorf("PollIntervalSeconds = %d, want 5", cfg.PollIntervalSeconds)
	}
	if cfg.VisibilitySeconds != 120 {
		t.Errorf("VisibilitySeconds = %d, want 120", cfg.VisibilitySeconds)
	}
}

func TestLoadFromFileLayersEnvOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	yaml := "http_port: 7000\nses_region: us-east-1\nstorage_account: relay\nmax_image_width: 320\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("SES_REGION", "eu-central-1")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.HTTPPort != 7000 {
		t.Errorf("HTTPPort = %d, want file value 7000", cfg.HTTPPort)
	}
	if cfg.SESRegion != "eu-central-1" {
		t.Errorf("SESRegion = %q, want env override", cfg.SESRegion)
	}
	if cfg.StorageAccount != "relay" {
		t.Errorf("StorageAccount = %q, want relay", cfg.StorageAccount)
	}
	if cfg.MaxImageWidth != 320 {
		t.Errorf("MaxImageWidth = %d, want 320", cfg.MaxImageWidth)
	}
	if cfg.MaxImageHeight != 200 {
		t.Errorf("MaxImageHeight = %d, want default 200", cfg.MaxImageHeight)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFromFile() error = nil, want error for missing file")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("INLINE_IMAGES", "definitely")

	cfg := Load()
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want fallback 8080", cfg.HTTPPort)
	}
	if cfg.InlineImages {
		t.Error("InlineImages = true, want fallback false")
	}
}
