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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/scanrunner/config"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 110))
	for y := 0; y < 110; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x40, 0xff})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
}

func TestRunIntakeOnce(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "scans")
	storageRoot := filepath.Join(base, "nas")
	thumbs := filepath.Join(base, "nas-thumbs")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Book42"), 0o755))
	writePNG(t, filepath.Join(root, "Book42", "p1.png"))

	var (
		mu        sync.Mutex
		completed []map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/storages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `[{"id":1,"nome":"nas","root_path":%q,"thumbs_path":%q,"peso":1,"minimo_diario_fixo":"100"}]`,
			storageRoot, thumbs)
	})
	mux.HandleFunc("GET /api/storages/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("POST /api/books/byname", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"bookId":42}`))
	})
	mux.HandleFunc("POST /api/scan/complete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		completed = append(completed, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	scannerFile := filepath.Join(base, "scanners.yaml")
	require.NoError(t, os.WriteFile(scannerFile, []byte(fmt.Sprintf(`
version: 1
scanners:
  - id: "3"
    name: Scanner_Main_01
    root_folder: %s
`, root)), 0o644))

	cfg := config.DefaultConfig()
	cfg.Bookkeeping.BaseURL = srv.URL
	cfg.Intake.ScannerFile = scannerFile
	cfg.Intake.FolderDelay = 0
	require.NoError(t, cfg.Validate())

	require.NoError(t, runIntakeOnce(context.Background(), cfg))

	assert.FileExists(t, filepath.Join(storageRoot, "001-storage", "Book42", "p1.png"))
	assert.FileExists(t, filepath.Join(thumbs, "Book42", "p1.jpg"))
	assert.DirExists(t, filepath.Join(root, "_success", "Book42"))
	assert.NoDirExists(t, filepath.Join(root, "Book42"))

	require.Len(t, completed, 1)
	assert.EqualValues(t, 42, completed[0]["bookId"])
	assert.EqualValues(t, 1, completed[0]["storageId"])
}

func TestNewPipelineRejectsBadScannerFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bookkeeping.BaseURL = "http://127.0.0.1:1"
	cfg.Intake.ScannerFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newPipeline(cfg)
	assert.Error(t, err)
}
