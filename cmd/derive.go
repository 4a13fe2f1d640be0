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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/scanrunner/internal/thumbnail"
)

func init() {
	opts := thumbnail.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "derive <page-image> <out.jpg>",
		Short: "Derive one page thumbnail the way intake does",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			d := thumbnail.New(opts)
			data, err := d.Derive(args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.OutOrStdout(), "wrote %s (%d bytes)\n", args[1], len(data))
			return err
		},
	}
	cmd.Flags().IntVar(&opts.MaxWidth, "max-width", opts.MaxWidth, "Thumbnail bounding box width")
	cmd.Flags().IntVar(&opts.MaxHeight, "max-height", opts.MaxHeight, "Thumbnail bounding box height")
	cmd.Flags().IntVar(&opts.Quality, "quality", opts.Quality, "JPEG quality (1-100)")

	rootCmd.AddCommand(cmd)
}
