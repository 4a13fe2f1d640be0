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
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/distribution"
)

func init() {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Show today's storage usage and the target the policy would choose next",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy, err := distribution.ParsePolicy(cfg.Distribution.Policy)
			if err != nil {
				return err
			}
			books, err := bookkeeping.NewClient(cfg.Bookkeeping.BaseURL, bookkeeping.WithTimeout(cfg.Bookkeeping.RequestTimeout))
			if err != nil {
				return err
			}
			return showSelection(c.Context(), c.OutOrStdout(), books, distribution.New(policy))
		},
	}

	rootCmd.AddCommand(cmd)
}

type storageCatalog interface {
	ListStorages(ctx context.Context) ([]bookkeeping.Storage, error)
	ListStorageStats(ctx context.Context) ([]bookkeeping.StorageStat, error)
}

func showSelection(ctx context.Context, out io.Writer, catalog storageCatalog, sel *distribution.Selector) error {
	storages, err := catalog.ListStorages(ctx)
	if err != nil {
		return fmt.Errorf("list storages: %w", err)
	}
	usage, err := catalog.ListStorageStats(ctx)
	if err != nil {
		return fmt.Errorf("list storage stats: %w", err)
	}

	cands := distribution.Candidates(storages, usage)
	var total int64
	for _, c := range cands {
		total += c.Usage
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tROOT\tWEIGHT\tMIN\tMIN%\tTODAY\tFIXED\tSHARE")
	for _, c := range cands {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f\t%d\t%.2f\t%.1f\n",
			c.ID, c.Name, c.RootPath, c.Weight, c.FixedDailyMinimum, c.PercentDailyMinimum,
			c.Usage, distribution.FixedRatio(c), distribution.PercentOfTotal(c, total))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	chosen, ok := sel.Select(storages, usage)
	if !ok {
		_, err = fmt.Fprintf(out, "\npolicy %s: no storage available, folders would be deferred\n", sel.Policy())
		return err
	}
	_, err = fmt.Fprintf(out, "\npolicy %s: next book goes to %s (%s)\n", sel.Policy(), chosen.Name, chosen.RootPath)
	return err
}
