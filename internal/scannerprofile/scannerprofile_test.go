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

package scannerprofile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
)

const sampleYAML = `
version: 1
scanners:
  - id: "7"
    name: Scanner_Main_01
    root_folder: /scans/main
    error_folder: /scans/main/_ERROS
  - id: "8"
    name: Scanner_Annex
    root_folder: /scans/annex
    success_folder: /archive/annex
    local_thumbs_path: /tmp/thumbs-annex
`

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListScanners(ctx context.Context) ([]bookkeeping.Scanner, error) {
	args := m.Called(ctx)
	scanners, _ := args.Get(0).([]bookkeeping.Scanner)
	return scanners, args.Error(1)
}

func TestFileProviderFromContents(t *testing.T) {
	p, err := newFileProviderFromContents("test", []byte(sampleYAML))
	require.NoError(t, err)

	scanners, err := p.Scanners(context.Background())
	require.NoError(t, err)
	require.Len(t, scanners, 2)

	assert.Equal(t, bookkeeping.Scanner{
		ID:              "7",
		Name:            "Scanner_Main_01",
		RootFolder:      "/scans/main",
		SuccessFolder:   filepath.Join("/scans/main", bookkeeping.DefaultSuccessDir),
		ErrorFolder:     "/scans/main/_ERROS",
		LocalThumbsPath: filepath.Join("/scans/main", bookkeeping.DefaultThumbsDir),
	}, scanners[0])
	assert.Equal(t, "/archive/annex", scanners[1].SuccessFolder)
	assert.Equal(t, "/tmp/thumbs-annex", scanners[1].LocalThumbsPath)

	// Callers cannot mutate the provider's copy.
	scanners[0].RootFolder = "/elsewhere"
	again, err := p.Scanners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/scans/main", again[0].RootFolder)
}

func TestFileProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unknown field", "scanners:\n  - root_folder: /a\n    colour: blue\n"},
		{"missing root", "scanners:\n  - id: \"1\"\n"},
		{"duplicate id", "scanners:\n  - id: \"1\"\n    root_folder: /a\n  - id: \"1\"\n    root_folder: /b\n"},
		{"missing id", "scanners:\n  - name: Scanner_Main_01\n    root_folder: /a\n"},
		{"blank id", "scanners:\n  - id: \" \"\n    name: Scanner_Main_01\n    root_folder: /a\n"},
		{"second scanner without id", "scanners:\n  - id: \"1\"\n    root_folder: /a\n  - name: Scanner_Annex\n    root_folder: /b\n"},
		{"bad version", "version: 3\nscanners: []\n"},
		{"not yaml", "scanners: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFileProviderFromContents("test", []byte(tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestFileProviderMissingIDNamesScanner(t *testing.T) {
	_, err := newFileProviderFromContents("scanners.yaml",
		[]byte("scanners:\n  - name: Scanner_Annex\n    root_folder: /scans/annex\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Scanner_Annex")
	assert.Contains(t, err.Error(), "has no id")
}

func TestNewFileProviderFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	scanners, err := p.Scanners(context.Background())
	require.NoError(t, err)
	assert.Len(t, scanners, 2)

	t.Setenv("SCANRUNNER_TEST_SCANNERS", sampleYAML)
	p, err = NewFileProvider("env:SCANRUNNER_TEST_SCANNERS")
	require.NoError(t, err)
	scanners, err = p.Scanners(context.Background())
	require.NoError(t, err)
	assert.Len(t, scanners, 2)

	_, err = NewFileProvider("env:SCANRUNNER_TEST_UNSET_VARIABLE")
	assert.Error(t, err)
	_, err = NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetupUsesAPIWithoutFile(t *testing.T) {
	lister := &mockLister{}
	lister.On("ListScanners", mock.Anything).Return([]bookkeeping.Scanner{
		{ID: "1", RootFolder: "/a"},
		{ID: "2", RootFolder: "/b"},
		{ID: "3", RootFolder: "/c"},
	}, nil)

	p, err := Setup("", lister, []string{"3", "1"})
	require.NoError(t, err)

	scanners, err := p.Scanners(context.Background())
	require.NoError(t, err)
	require.Len(t, scanners, 2)
	assert.Equal(t, bookkeeping.ID("1"), scanners[0].ID, "service order is kept")
	assert.Equal(t, bookkeeping.ID("3"), scanners[1].ID)
	lister.AssertExpectations(t)
}

func TestSetupPropagatesListerErrors(t *testing.T) {
	lister := &mockLister{}
	lister.On("ListScanners", mock.Anything).Return(nil, errors.New("connection refused"))

	p, err := Setup("", lister, nil)
	require.NoError(t, err)
	_, err = p.Scanners(context.Background())
	assert.Error(t, err)
}

func TestSetupPrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	lister := &mockLister{}

	p, err := Setup(path, lister, []string{"8"})
	require.NoError(t, err)
	scanners, err := p.Scanners(context.Background())
	require.NoError(t, err)
	require.Len(t, scanners, 1)
	assert.Equal(t, "Scanner_Annex", scanners[0].Name)
	lister.AssertNotCalled(t, "ListScanners", mock.Anything)
}
