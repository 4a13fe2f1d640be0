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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/scanrunner/config"
	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/cloudstorage"
	"github.com/cardinalhq/scanrunner/internal/debugging"
	"github.com/cardinalhq/scanrunner/internal/distribution"
	"github.com/cardinalhq/scanrunner/internal/healthcheck"
	"github.com/cardinalhq/scanrunner/internal/idgen"
	"github.com/cardinalhq/scanrunner/internal/intake"
	"github.com/cardinalhq/scanrunner/internal/scannerprofile"
	"github.com/cardinalhq/scanrunner/internal/thumbnail"
)

func init() {
	var once bool

	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Run the scan intake loop",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "scanrunner-intake"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if once {
				return runIntakeOnce(doneCtx, cfg)
			}
			return runIntake(doneCtx, cfg)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single scan cycle and exit")

	rootCmd.AddCommand(cmd)
}

type pipeline struct {
	coordinator *intake.Coordinator
	health      *healthcheck.Server
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	policy, err := distribution.ParsePolicy(cfg.Distribution.Policy)
	if err != nil {
		return nil, err
	}
	propagation, err := intake.ParsePropagation(cfg.Intake.Propagation)
	if err != nil {
		return nil, err
	}

	books, err := bookkeeping.NewClient(cfg.Bookkeeping.BaseURL, bookkeeping.WithTimeout(cfg.Bookkeeping.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("bookkeeping client: %w", err)
	}
	scanners, err := scannerprofile.Setup(cfg.Intake.ScannerFile, books, cfg.Intake.ScannerIDs)
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(0)
	if err != nil {
		return nil, err
	}

	deriver := thumbnail.New(thumbnail.Options{
		MaxWidth:  cfg.Thumbnail.MaxWidth,
		MaxHeight: cfg.Thumbnail.MaxHeight,
		Quality:   cfg.Thumbnail.Quality,
	})
	storage := cloudstorage.NewCloudManagers(cloudstorage.S3Settings{
		Region:       cfg.Storage.S3.Region,
		Endpoint:     cfg.Storage.S3.Endpoint,
		RoleARN:      cfg.Storage.S3.RoleARN,
		UsePathStyle: cfg.Storage.S3.UsePathStyle,
		InsecureTLS:  cfg.Storage.S3.InsecureTLS,
	})

	processor := intake.NewProcessor(intake.ProcessorConfig{
		Propagation:      propagation,
		StrictThumbnails: cfg.Intake.StrictThumbnails,
		PersistUsage:     cfg.Distribution.PersistUsage,
	}, books, deriver, distribution.New(policy), storage, intake.WithIDSource(ids.Next))

	health := healthcheck.NewServer(healthcheck.Config{
		Port:       cfg.Health.Port,
		StaleAfter: cfg.Health.StaleAfter,
	})

	coordinator := intake.NewCoordinator(intake.CoordinatorConfig{
		FolderDelay: cfg.Intake.FolderDelay,
		TrackUsage:  cfg.Distribution.TrackUsage,
	}, books, scanners, processor, intake.OnCycle(func(_ intake.CycleSummary, err error) {
		health.ObserveCycle(err)
	}))

	slog.Info("Intake configured",
		slog.String("bookkeeping", cfg.Bookkeeping.BaseURL),
		slog.String("policy", string(policy)),
		slog.String("propagation", string(propagation)),
		slog.Bool("trackUsage", cfg.Distribution.TrackUsage),
		slog.Bool("persistUsage", cfg.Distribution.PersistUsage),
		slog.Duration("cycleInterval", cfg.Intake.CycleInterval))

	return &pipeline{coordinator: coordinator, health: health}, nil
}

func runIntake(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.health.Start(gctx)
	})
	g.Go(func() error {
		return debugging.ServePprof(gctx, cfg.Debug.PprofPort)
	})
	g.Go(func() error {
		return p.coordinator.Run(gctx, cfg.Intake.CycleInterval)
	})
	return g.Wait()
}

func runIntakeOnce(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	sum, err := p.coordinator.RunCycle(ctx)
	if err != nil {
		return err
	}
	slog.Info("Scan cycle complete",
		slog.Int("folders", sum.Folders),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("deferred", sum.Deferred),
		slog.Duration("elapsed", sum.Elapsed))
	return sum.SkippedSources
}
