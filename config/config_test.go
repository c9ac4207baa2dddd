package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, "/wordlists", cfg.WordlistRoot)
	require.Equal(t, "anthropic", cfg.Planner.Primary)
	require.Equal(t, 10*time.Minute, cfg.ApprovalTimeouts["test-execution"])
}

func TestLoad_MissingPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "concurrency: 8\nwordlistRoot: /custom-wordlists\nplanner:\n  primary: openai\n  backup: anthropic\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Concurrency)
	require.Equal(t, "/custom-wordlists", cfg.WordlistRoot)
	require.Equal(t, "openai", cfg.Planner.Primary)
	require.Equal(t, "anthropic", cfg.Planner.Backup)
	// Fields absent from the override file keep their documented default.
	require.Equal(t, "./audit", cfg.AuditDir)
	require.Equal(t, 30*time.Second, cfg.Planner.RequestTimeout)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: [this is not an int"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
