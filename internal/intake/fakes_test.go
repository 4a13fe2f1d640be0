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

package intake

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/cloudstorage"
	"github.com/cardinalhq/scanrunner/internal/distribution"
	"github.com/cardinalhq/scanrunner/internal/thumbnail"
)

// fakeService is an in-memory bookkeeping service.
type fakeService struct {
	mu sync.Mutex

	books          map[string]any
	completeStatus int
	uploadStatus   int

	completed []bookkeeping.CompleteScanRequest
	uploads   []string
	stats     []bookkeeping.StorageStatUpdate
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/books/byname", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BookName string `json:"bookName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		id, ok := f.books[req.BookName]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error": "book not found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"bookId": id})
	})
	mux.HandleFunc("POST /api/upload/thumbnail", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.uploadStatus != 0 {
			w.WriteHeader(f.uploadStatus)
			return
		}
		f.uploads = append(f.uploads, r.FormValue("bookName")+"/"+r.FormValue("originalName"))
	})
	mux.HandleFunc("POST /api/scan/complete", func(w http.ResponseWriter, r *http.Request) {
		var req bookkeeping.CompleteScanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.completeStatus != 0 {
			w.WriteHeader(f.completeStatus)
			_, _ = io.WriteString(w, `{"error": "internal error"}`)
			return
		}
		f.completed = append(f.completed, req)
	})
	mux.HandleFunc("POST /api/storages/writestats", func(w http.ResponseWriter, r *http.Request) {
		var req bookkeeping.StorageStatUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stats = append(f.stats, req)
	})
	return mux
}

type testEnv struct {
	t       *testing.T
	svc     *fakeService
	client  *bookkeeping.Client
	scanner bookkeeping.Scanner
	targets []bookkeeping.Storage

	storageRoot   string
	storageThumbs string
}

var testClock = func() time.Time {
	return time.Date(2025, 3, 1, 23, 30, 0, 0, time.FixedZone("BRT", -3*60*60))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	svc := &fakeService{books: map[string]any{"Book42": 42}}
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	client, err := bookkeeping.NewClient(srv.URL, bookkeeping.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	root := t.TempDir()
	scanner := bookkeeping.Scanner{ID: "3", Name: "Scanner_Main_01", RootFolder: filepath.Join(root, "scans")}.WithDefaults()
	require.NoError(t, os.MkdirAll(scanner.RootFolder, 0o755))

	storageRoot := filepath.Join(root, "nas-a")
	storageThumbs := filepath.Join(root, "public", "thumbs")

	return &testEnv{
		t:       t,
		svc:     svc,
		client:  client,
		scanner: scanner,
		targets: []bookkeeping.Storage{{
			ID:                "1",
			Name:              "nas-a",
			RootPath:          storageRoot,
			ThumbsPath:        storageThumbs,
			Weight:            1,
			FixedDailyMinimum: 100,
		}},
		storageRoot:   storageRoot,
		storageThumbs: storageThumbs,
	}
}

// addFolder creates an intake folder. Names ending in .tif or .tiff hold a
// real image unless they contain "corrupt"; anything else holds text.
func (e *testEnv) addFolder(name string, files ...string) string {
	e.t.Helper()
	dir := filepath.Join(e.scanner.RootFolder, name)
	require.NoError(e.t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		path := filepath.Join(dir, f)
		ext := strings.ToLower(filepath.Ext(f))
		if (ext == ".tif" || ext == ".tiff") && !strings.Contains(f, "corrupt") {
			writeTIFF(e.t, path)
			continue
		}
		require.NoError(e.t, os.WriteFile(path, []byte("not an image: "+f), 0o644))
	}
	return dir
}

func (e *testEnv) processor(cfg ProcessorConfig, storage cloudstorage.ClientProvider) *Processor {
	if storage == nil {
		storage = cloudstorage.NewCloudManagers(cloudstorage.S3Settings{})
	}
	return NewProcessor(cfg,
		e.client,
		thumbnail.New(thumbnail.DefaultOptions()),
		distribution.New(distribution.PolicyFixed, distribution.WithRand(rand.New(rand.NewPCG(1, 1)))),
		storage,
		WithIDSource(func() int64 { return 77 }),
		WithClock(testClock),
	)
}

func (e *testEnv) process(p *Processor, folder string) *Result {
	return p.Process(context.Background(), e.scanner, folder, e.targets, nil)
}

func writeTIFF(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 60, 80))
	for y := range 80 {
		for x := range 60 {
			img.SetGray(x, y, color.Gray{Y: uint8(x * y)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, tiff.Encode(f, img, nil))
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var ret []string
	for _, e := range entries {
		ret = append(ret, e.Name())
	}
	return ret
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) NewClient(ctx context.Context, loc cloudstorage.Location) (cloudstorage.Client, error) {
	args := m.Called(ctx, loc)
	c, _ := args.Get(0).(cloudstorage.Client)
	return c, args.Error(1)
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	return m.Called(ctx, bucket, key, sourceFilename).Error(0)
}
