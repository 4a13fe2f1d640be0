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

// Package scannerprofile supplies the scanner sources visited by each cycle,
// either from the bookkeeping service or from a static YAML file.
package scannerprofile

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
)

type Provider interface {
	Scanners(ctx context.Context) ([]bookkeeping.Scanner, error)
}

// Lister is the part of the bookkeeping client used by the API provider.
type Lister interface {
	ListScanners(ctx context.Context) ([]bookkeeping.Scanner, error)
}

type apiProvider struct {
	lister Lister
}

// NewAPIProvider reads the scanner list from the bookkeeping service on
// every call, so edits there take effect on the next cycle.
func NewAPIProvider(lister Lister) Provider {
	return &apiProvider{lister: lister}
}

func (p *apiProvider) Scanners(ctx context.Context) ([]bookkeeping.Scanner, error) {
	return p.lister.ListScanners(ctx)
}

type filtered struct {
	next Provider
	ids  []string
}

// WithIDs restricts a provider to the scanners whose ID is listed. An empty
// list returns next unchanged.
func WithIDs(next Provider, ids []string) Provider {
	if len(ids) == 0 {
		return next
	}
	return &filtered{next: next, ids: ids}
}

func (p *filtered) Scanners(ctx context.Context) ([]bookkeeping.Scanner, error) {
	all, err := p.next.Scanners(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]bookkeeping.Scanner, 0, len(p.ids))
	for _, sc := range all {
		if slices.Contains(p.ids, string(sc.ID)) {
			ret = append(ret, sc)
		}
	}
	return ret, nil
}

// Setup returns the file provider when scannerFile is set and the API
// provider otherwise, restricted to ids.
func Setup(scannerFile string, lister Lister, ids []string) (Provider, error) {
	var p Provider
	if scannerFile != "" {
		fp, err := NewFileProvider(scannerFile)
		if err != nil {
			return nil, err
		}
		slog.Info("Using file scanner provider", slog.String("path", scannerFile))
		p = fp
	} else {
		slog.Info("Using bookkeeping scanner provider")
		p = NewAPIProvider(lister)
	}
	return WithIDs(p, ids), nil
}
