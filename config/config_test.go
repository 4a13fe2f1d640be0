// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HEALTH_CHECK_PORT", "")
	t.Setenv("SCANRUNNER_BOOKKEEPING_BASE_URL", "http://books.local:5000/")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://books.local:5000", cfg.Bookkeeping.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Bookkeeping.RequestTimeout)
	assert.Equal(t, "fixed", cfg.Distribution.Policy)
	assert.True(t, cfg.Distribution.TrackUsage)
	assert.False(t, cfg.Distribution.PersistUsage)
	assert.Equal(t, 60*time.Second, cfg.Intake.CycleInterval)
	assert.Equal(t, time.Second, cfg.Intake.FolderDelay)
	assert.Equal(t, "copy", cfg.Intake.Propagation)
	assert.Empty(t, cfg.Intake.ScannerIDs)
	assert.Equal(t, ThumbnailConfig{MaxWidth: 400, MaxHeight: 550, Quality: 85}, cfg.Thumbnail)
	assert.Equal(t, 8090, cfg.Health.Port)
	assert.Zero(t, cfg.Debug.PprofPort)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCANRUNNER_BOOKKEEPING_BASE_URL", "https://books.example.com")
	t.Setenv("SCANRUNNER_DISTRIBUTION_POLICY", "weighted")
	t.Setenv("SCANRUNNER_DISTRIBUTION_TRACK_USAGE", "false")
	t.Setenv("SCANRUNNER_INTAKE_CYCLE_INTERVAL", "90s")
	t.Setenv("SCANRUNNER_INTAKE_SCANNER_IDS", "3, 5,")
	t.Setenv("SCANRUNNER_STORAGE_S3_USE_PATH_STYLE", "true")
	t.Setenv("SCANRUNNER_STORAGE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("SCANRUNNER_HEALTH_PORT", "9191")
	t.Setenv("SCANRUNNER_DEBUG_PPROF_PORT", "6060")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "weighted", cfg.Distribution.Policy)
	assert.False(t, cfg.Distribution.TrackUsage)
	assert.Equal(t, 90*time.Second, cfg.Intake.CycleInterval)
	assert.Equal(t, []string{"3", "5"}, cfg.Intake.ScannerIDs)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "http://minio:9000", cfg.Storage.S3.Endpoint)
	assert.Equal(t, 9191, cfg.Health.Port)
	assert.Equal(t, 6060, cfg.Debug.PprofPort)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanrunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bookkeeping:
  base_url: http://10.0.0.5:8080
  request_timeout: 10s
distribution:
  policy: percentage
  persist_usage: true
intake:
  folder_delay: 0s
  propagation: upload
  strict_thumbnails: true
  scanner_ids: ["7", "9"]
  scanner_file: /etc/scanrunner/scanners.yaml
thumbnail:
  quality: 70
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://10.0.0.5:8080", cfg.Bookkeeping.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Bookkeeping.RequestTimeout)
	assert.Equal(t, "percentage", cfg.Distribution.Policy)
	assert.True(t, cfg.Distribution.PersistUsage)
	assert.True(t, cfg.Distribution.TrackUsage, "default kept")
	assert.Zero(t, cfg.Intake.FolderDelay)
	assert.Equal(t, "upload", cfg.Intake.Propagation)
	assert.True(t, cfg.Intake.StrictThumbnails)
	assert.Equal(t, []string{"7", "9"}, cfg.Intake.ScannerIDs)
	assert.Equal(t, "/etc/scanrunner/scanners.yaml", cfg.Intake.ScannerFile)
	assert.Equal(t, 70, cfg.Thumbnail.Quality)
	assert.Equal(t, 400, cfg.Thumbnail.MaxWidth)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bookkeeping.BaseURL = "http://books"
	cfg.Health.Port = 8090
	require.NoError(t, cfg.Validate())

	cfg.Bookkeeping.BaseURL = "books.local"
	cfg.Distribution.Policy = "round-robin"
	cfg.Intake.Propagation = "rsync"
	cfg.Intake.CycleInterval = 0
	cfg.Intake.FolderDelay = -time.Second
	cfg.Thumbnail.Quality = 0
	cfg.Health.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"bookkeeping.base_url",
		"round-robin",
		"rsync",
		"intake.cycle_interval",
		"intake.folder_delay",
		"thumbnail.quality",
		"health.port",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRequiresBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Health.Port = 8090
	assert.ErrorContains(t, cfg.Validate(), "bookkeeping.base_url is required")
}
