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

package bookkeeping

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	require.Error(t, err)

	_, err = NewClient("localhost:4000")
	require.Error(t, err)

	c, err := NewClient("http://localhost:4000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", c.baseURL.String())
}

func TestListStorages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/storages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, `[
			{"id": 1, "nome": "nas-a", "ip": "10.0.0.1", "root_path": "/mnt/a", "thumbs_path": "/srv/thumbs",
			 "percentual_minimo_diario": "12.50", "minimo_diario_fixo": 100, "peso": 3},
			{"id": "2", "nome": "", "root_path": "s3://bucket/books", "thumbs_path": null,
			 "percentual_minimo_diario": null, "minimo_diario_fixo": "0", "peso": "1"}
		]`)
	})

	storages, err := c.ListStorages(context.Background())
	require.NoError(t, err)
	require.Len(t, storages, 2)

	assert.Equal(t, Storage{
		ID:                  "1",
		Name:                "nas-a",
		RootPath:            "/mnt/a",
		ThumbsPath:          "/srv/thumbs",
		Weight:              3,
		FixedDailyMinimum:   100,
		PercentDailyMinimum: 12.5,
	}, storages[0])

	assert.Equal(t, ID("2"), storages[1].ID)
	assert.Equal(t, "2", storages[1].Name, "blank names fall back to the id")
	assert.Equal(t, 1, storages[1].Weight)
	assert.Zero(t, storages[1].FixedDailyMinimum)
}

func TestListStoragesRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `[{"nome": "x", "root_path": "/mnt/x"}]`},
		{"missing root path", `[{"id": 3, "nome": "x"}]`},
		{"bad number", `[{"id": 3, "root_path": "/mnt/x", "peso": "heavy"}]`},
		{"not an array", `{"error": "boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.ListStorages(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestListStorageStats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/storages/stats", r.URL.Path)
		_, _ = io.WriteString(w, `[{"storage_id": 1, "total_tifs_enviados": 42}, {"storage_id": 2, "total_tifs_enviados": "7"}]`)
	})

	stats, err := c.ListStorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []StorageStat{
		{StorageID: "1", PagesSentToday: 42},
		{StorageID: "2", PagesSentToday: 7},
	}, stats)
}

func TestListScannersAppliesDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/scanners", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id": 7, "nome": "Scanner_Main_01", "ip": "10.0.0.9", "scanner_root_folder": "/scans/main",
			 "error_folder": "/scans/main/_ERROS", "success_folder": "", "local_thumbs_path": null}
		]`)
	})

	scanners, err := c.ListScanners(context.Background())
	require.NoError(t, err)
	require.Len(t, scanners, 1)
	sc := scanners[0]
	assert.Equal(t, ID("7"), sc.ID)
	assert.Equal(t, "Scanner_Main_01", sc.Label())
	assert.Equal(t, "/scans/main/_ERROS", sc.ErrorFolder)
	assert.Equal(t, filepath.Join("/scans/main", DefaultSuccessDir), sc.SuccessFolder)
	assert.Equal(t, filepath.Join("/scans/main", DefaultThumbsDir), sc.LocalThumbsPath)
}

func TestResolveBookIDIsNameExact(t *testing.T) {
	books := map[string]any{
		"Book42":  "b_42",
		"Book420": 420,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/books/byname", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req struct {
			BookName string `json:"bookName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		id, ok := books[req.BookName]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error": "Livro não encontrado."}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"bookId": id})
	})

	id, err := c.ResolveBookID(context.Background(), "Book42")
	require.NoError(t, err)
	assert.Equal(t, ID("b_42"), id)

	id, err = c.ResolveBookID(context.Background(), "Book420")
	require.NoError(t, err)
	assert.Equal(t, ID("420"), id)

	_, err = c.ResolveBookID(context.Background(), "Book4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBookNotFound)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestResolveBookIDRequiresExactly200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"bookId": 5}`)
	})
	_, err := c.ResolveBookID(context.Background(), "Book5")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBookNotFound)
}

func TestResolveBookIDEmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := c.ResolveBookID(context.Background(), "Book5")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestUploadThumbnail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/upload/thumbnail", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "page-001.jpg", r.FormValue("originalName"))
		assert.Equal(t, "Book42", r.FormValue("bookName"))
		f, hdr, err := r.FormFile("thumbnail")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		assert.Equal(t, "page-001.jpg", hdr.Filename)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), data)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.UploadThumbnail(context.Background(), "Book42", "page-001.jpg", []byte("jpeg-bytes")))
}

func TestCompleteScanPayload(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/scan/complete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.CompleteScan(context.Background(), CompleteScanRequest{
		BookID:    "12",
		StorageID: "s1",
		ScannerID: "3",
		LogID:     99,
	})
	require.NoError(t, err)

	assert.Equal(t, float64(12), got["bookId"], "numeric ids go back out as numbers")
	assert.Equal(t, "s1", got["storageId"])
	assert.Equal(t, float64(3), got["scannerId"])
	assert.Equal(t, float64(99), got["logId"])
	assert.Equal(t, []any{}, got["fileList"], "an empty page list is sent as an empty array")
}

func TestCompleteScanServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error": "Erro interno"}`)
	})

	err := c.CompleteScan(context.Background(), CompleteScanRequest{BookID: "1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Error(), "Erro interno")
}

func TestWriteStorageStats(t *testing.T) {
	var got StorageStatUpdate
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/storages/writestats", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	update := StorageStatUpdate{StorageID: "4", Date: "2025-03-01", PagesSent: 12, Note: "Book42"}
	require.NoError(t, c.WriteStorageStats(context.Background(), update))
	assert.Equal(t, update, got)
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.ListStorages(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIDMarshalJSON(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{"42", `42`},
		{"-7", `-7`},
		{"0", `0`},
		{"01", `"01"`},
		{"007", `"007"`},
		{"+5", `"+5"`},
		{"b_42", `"b_42"`},
		{"", `""`},
		{"99999999999999999999", `"99999999999999999999"`},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			b, err := json.Marshal(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))

			var back ID
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, tt.id, back)
		})
	}
}

func TestCompleteScanZeroPaddedScannerID(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.CompleteScan(context.Background(), CompleteScanRequest{
		BookID:    "42",
		StorageID: "1",
		ScannerID: "01",
		LogID:     9,
	})
	require.NoError(t, err)
	assert.Equal(t, "01", got["scannerId"])
	assert.EqualValues(t, 42, got["bookId"])
}
