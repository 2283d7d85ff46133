package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesPartialFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "virtos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("physicalMemory: 2048\npageSize: 32\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.PhysicalMemory)
	assert.Equal(t, 32, cfg.PageSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().DataSegmentSize, cfg.DataSegmentSize)
	assert.Equal(t, Default().SwapDir, cfg.SwapDir)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePhysicalMemory(t *testing.T) {
	cfg := Default()
	cfg.PhysicalMemory = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeSharedRegionCount(t *testing.T) {
	cfg := Default()
	cfg.NumSharedRegions = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
