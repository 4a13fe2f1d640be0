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
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/scannerprofile"
)

// Catalog lists the storage targets and today's usage at cycle start.
type Catalog interface {
	ListStorages(ctx context.Context) ([]bookkeeping.Storage, error)
	ListStorageStats(ctx context.Context) ([]bookkeeping.StorageStat, error)
}

type FolderProcessor interface {
	Process(ctx context.Context, scanner bookkeeping.Scanner, folderName string,
		targets []bookkeeping.Storage, usage []bookkeeping.StorageStat) *Result
}

type CoordinatorConfig struct {
	// FolderDelay is the pause after every folder.
	FolderDelay time.Duration
	// TrackUsage adds each success's page count to the in-memory usage for
	// the rest of the cycle.
	TrackUsage bool
}

// CycleSummary counts what one cycle did.
type CycleSummary struct {
	Started   time.Time
	Elapsed   time.Duration
	Storages  int
	Scanners  int
	Folders   int
	Succeeded int
	Failed    int
	Deferred  int
	// SkippedSources holds one error per scanner whose root could not be
	// prepared or listed.
	SkippedSources error
}

// Coordinator runs scan cycles over every configured scanner, one folder at
// a time.
type Coordinator struct {
	cfg       CoordinatorConfig
	catalog   Catalog
	scanners  scannerprofile.Provider
	processor FolderProcessor

	sleep   func(ctx context.Context, d time.Duration) bool
	onCycle func(CycleSummary, error)
}

type CoordinatorOption func(*Coordinator)

// WithSleep replaces the context-aware sleep used between folders and
// cycles. It returns true when ctx is done.
func WithSleep(f func(ctx context.Context, d time.Duration) bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.sleep = f
	}
}

// OnCycle registers a hook called after every cycle, including failed ones.
func OnCycle(f func(CycleSummary, error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onCycle = f
	}
}

func NewCoordinator(
	cfg CoordinatorConfig,
	catalog Catalog,
	scanners scannerprofile.Provider,
	processor FolderProcessor,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		catalog:   catalog,
		scanners:  scanners,
		processor: processor,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle makes one pass over every scanner. It returns an error only when
// the cycle could not start; per-source and per-folder failures are logged
// and counted in the summary.
func (c *Coordinator) RunCycle(ctx context.Context) (sum CycleSummary, err error) {
	sum.Started = time.Now()
	defer func() { sum.Elapsed = time.Since(sum.Started) }()

	storages, err := c.catalog.ListStorages(ctx)
	if err != nil {
		return sum, fmt.Errorf("list storages: %w", err)
	}
	sum.Storages = len(storages)
	if len(storages) == 0 {
		slog.Warn("No storage targets configured, skipping cycle")
		return sum, nil
	}

	usage, err := c.catalog.ListStorageStats(ctx)
	if err != nil {
		slog.Warn("Failed to fetch storage usage, assuming none today", slog.Any("error", err))
		usage = nil
	}
	// Appended to below; never alias the caller's slice.
	usage = append([]bookkeeping.StorageStat(nil), usage...)

	scanners, err := c.scanners.Scanners(ctx)
	if err != nil {
		return sum, fmt.Errorf("list scanners: %w", err)
	}
	sum.Scanners = len(scanners)

	var skipped *multierror.Error
	for _, sc := range scanners {
		if ctx.Err() != nil {
			break
		}
		ll := slog.Default().With(slog.String("scanner", sc.Label()))

		// Support folders default to living under the root; creating them
		// must not recreate an unmounted root.
		if err := checkRoot(sc.RootFolder); err != nil {
			ll.Error("Scanner root unavailable, skipping", slog.String("root", sc.RootFolder), slog.Any("error", err))
			skipped = multierror.Append(skipped, fmt.Errorf("scanner %s: %w", sc.Label(), err))
			continue
		}
		if err := ensureDirs(sc.SuccessFolder, sc.ErrorFolder, sc.LocalThumbsPath); err != nil {
			ll.Error("Failed to create scanner support folders, skipping", slog.Any("error", err))
			skipped = multierror.Append(skipped, fmt.Errorf("scanner %s: %w", sc.Label(), err))
			continue
		}
		folders, err := ListFolders(sc.RootFolder)
		if err != nil {
			ll.Error("Failed to list scanner root, skipping", slog.String("root", sc.RootFolder), slog.Any("error", err))
			skipped = multierror.Append(skipped, fmt.Errorf("scanner %s: %w", sc.Label(), err))
			continue
		}
		if len(folders) > 0 {
			ll.Info("Pending folders", slog.Int("count", len(folders)))
		}

		for _, name := range folders {
			if ctx.Err() != nil {
				break
			}
			res := c.processor.Process(ctx, sc, name, storages, usage)
			sum.Folders++
			switch res.Outcome {
			case OutcomeSuccess:
				sum.Succeeded++
				if c.cfg.TrackUsage && len(res.Pages) > 0 {
					usage = append(usage, bookkeeping.StorageStat{
						StorageID:      res.Storage.ID,
						PagesSentToday: int64(len(res.Pages)),
					})
				}
			case OutcomeDeferred:
				sum.Deferred++
			default:
				sum.Failed++
			}
			if c.sleep(ctx, c.cfg.FolderDelay) {
				break
			}
		}
	}
	sum.SkippedSources = skipped.ErrorOrNil()
	return sum, nil
}

// Run repeats RunCycle until ctx is done, pausing interval between cycles. A
// failing or panicking cycle is logged and the loop carries on.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	for {
		c.runOnce(ctx)
		if c.sleep(ctx, interval) {
			return nil
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context) {
	var (
		sum CycleSummary
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
			slog.Error("Scan cycle panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		c.finishCycle(ctx, sum, err)
	}()
	sum, err = c.RunCycle(ctx)
}

func (c *Coordinator) finishCycle(ctx context.Context, sum CycleSummary, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		slog.Error("Scan cycle failed", slog.Any("error", err))
	case sum.SkippedSources != nil:
		status = "partial"
	}
	recordCycle(ctx, status, sum.Elapsed)

	if err == nil {
		slog.Info("Scan cycle complete",
			slog.Int("scanners", sum.Scanners),
			slog.Int("folders", sum.Folders),
			slog.Int("succeeded", sum.Succeeded),
			slog.Int("failed", sum.Failed),
			slog.Int("deferred", sum.Deferred),
			slog.Duration("elapsed", sum.Elapsed))
	}
	if c.onCycle != nil {
		c.onCycle(sum, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
