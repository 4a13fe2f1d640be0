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
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
)

type fileConfig struct {
	Version  int             `yaml:"version"`
	Scanners []scannerConfig `yaml:"scanners"`
}

type scannerConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	RootFolder      string `yaml:"root_folder"`
	SuccessFolder   string `yaml:"success_folder,omitempty"`
	ErrorFolder     string `yaml:"error_folder,omitempty"`
	LocalThumbsPath string `yaml:"local_thumbs_path,omitempty"`
}

type fileProvider struct {
	scanners []bookkeeping.Scanner
}

var _ Provider = (*fileProvider)(nil)

// NewFileProvider loads scanners from a YAML file, or from the contents of
// an environment variable when filename is "env:VARNAME".
func NewFileProvider(filename string) (Provider, error) {
	if envVar, ok := strings.CutPrefix(filename, "env:"); ok {
		contents := os.Getenv(envVar)
		if contents == "" {
			return nil, fmt.Errorf("environment variable %s is not set", envVar)
		}
		return newFileProviderFromContents(filename, []byte(contents))
	}

	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scanner profiles from file %s: %w", filename, err)
	}
	return newFileProviderFromContents(filename, contents)
}

func newFileProviderFromContents(filename string, contents []byte) (*fileProvider, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scanner profiles from %s: %w", filename, err)
	}
	if cfg.Version != 0 && cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported scanner profile version %d in %s", cfg.Version, filename)
	}

	seen := make(map[string]bool, len(cfg.Scanners))
	scanners := make([]bookkeeping.Scanner, 0, len(cfg.Scanners))
	for i, sc := range cfg.Scanners {
		if strings.TrimSpace(sc.RootFolder) == "" {
			return nil, fmt.Errorf("scanner %d in %s has no root_folder", i, filename)
		}
		// Completed scans are attributed by id, so it cannot be left out.
		id := strings.TrimSpace(sc.ID)
		if id == "" {
			return nil, fmt.Errorf("scanner %d (%s) in %s has no id", i, sc.Name, filename)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate scanner %q in %s", id, filename)
		}
		seen[id] = true
		scanners = append(scanners, bookkeeping.Scanner{
			ID:              bookkeeping.ID(id),
			Name:            sc.Name,
			RootFolder:      sc.RootFolder,
			SuccessFolder:   sc.SuccessFolder,
			ErrorFolder:     sc.ErrorFolder,
			LocalThumbsPath: sc.LocalThumbsPath,
		}.WithDefaults())
	}
	return &fileProvider{scanners: scanners}, nil
}

func (p *fileProvider) Scanners(context.Context) ([]bookkeeping.Scanner, error) {
	return append([]bookkeeping.Scanner(nil), p.scanners...), nil
}
