package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.HighWaterMark != 256 {
		t.Errorf("HighWaterMark = %d, want 256", cfg.Pipeline.HighWaterMark)
	}
	if cfg.Pipeline.BatchTimeout != time.Second {
		t.Errorf("BatchTimeout = %v, want 1s", cfg.Pipeline.BatchTimeout)
	}
	if cfg.Pipeline.IndexTimeout != 30*time.Second {
		t.Errorf("IndexTimeout = %v, want 30s", cfg.Pipeline.IndexTimeout)
	}
	if cfg.Pipeline.IndexPrefix == "" {
		t.Error("IndexPrefix default is empty")
	}
	if cfg.Pipeline.TagsToInclude == "" {
		t.Error("TagsToInclude default is empty")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
pipeline:
  xmlFilePath: /data/dump
  indexPrefix: meta_
  highWaterMark: 64
  batchTimeout: 2s
store:
  dataDir: /data/index
redis:
  enabled: true
  addr: cache:6379
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.XMLFilePath != "/data/dump" {
		t.Errorf("XMLFilePath = %q", cfg.Pipeline.XMLFilePath)
	}
	if cfg.Pipeline.IndexPrefix != "meta_" {
		t.Errorf("IndexPrefix = %q, want meta_", cfg.Pipeline.IndexPrefix)
	}
	if cfg.Pipeline.HighWaterMark != 64 {
		t.Errorf("HighWaterMark = %d, want 64", cfg.Pipeline.HighWaterMark)
	}
	if cfg.Pipeline.BatchTimeout != 2*time.Second {
		t.Errorf("BatchTimeout = %v, want 2s", cfg.Pipeline.BatchTimeout)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Postgres.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STACKOFF_XML_FILE_PATH", "/dumps/askubuntu")
	t.Setenv("STACKOFF_INDEX_PREFIX", "ubuntu_")
	t.Setenv("STACKOFF_HIGH_WATER_MARK", "32")
	t.Setenv("STACKOFF_TAGS_TO_INCLUDE", "apt dpkg snap")
	t.Setenv("STACKOFF_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.XMLFilePath != "/dumps/askubuntu" {
		t.Errorf("XMLFilePath = %q", cfg.Pipeline.XMLFilePath)
	}
	if cfg.Pipeline.IndexPrefix != "ubuntu_" {
		t.Errorf("IndexPrefix = %q", cfg.Pipeline.IndexPrefix)
	}
	if cfg.Pipeline.HighWaterMark != 32 {
		t.Errorf("HighWaterMark = %d, want 32", cfg.Pipeline.HighWaterMark)
	}
	if cfg.Pipeline.TagsToInclude != "apt dpkg snap" {
		t.Errorf("TagsToInclude = %q", cfg.Pipeline.TagsToInclude)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host:     "db",
		Port:     5432,
		Database: "stackoff",
		User:     "app",
		Password: "secret",
		SSLMode:  "disable",
	}
	want := "host=db port=5432 user=app password=secret dbname=stackoff sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
