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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/hashicorp/go-multierror"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/scanrunner/cmd"
)

const (
	defaultMemLimitRatio = 0.8
	// Thumbnail derivation decodes whole pages, so collect earlier than the
	// runtime default.
	defaultGCPercent = 50
)

// tuning holds the process-level runtime knobs.
type tuning struct {
	memLimitRatio float64
	// gcPercent < 0 leaves the collector as GOGC configured it.
	gcPercent int
}

func tuningFromEnv(getenv func(string) string) (tuning, error) {
	t := tuning{memLimitRatio: defaultMemLimitRatio, gcPercent: defaultGCPercent}
	var errs *multierror.Error

	if v := getenv("SCANRUNNER_MEMLIMIT_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("SCANRUNNER_MEMLIMIT_RATIO: %w", err))
		case r <= 0 || r > 1:
			errs = multierror.Append(errs, fmt.Errorf("SCANRUNNER_MEMLIMIT_RATIO must be in (0, 1], got %v", r))
		default:
			t.memLimitRatio = r
		}
	}
	if getenv("GOGC") != "" {
		t.gcPercent = -1
	}
	return t, errs.ErrorOrNil()
}

func (t tuning) apply(ll *slog.Logger) {
	logf := func(msg string, args ...any) {
		ll.Info(fmt.Sprintf(msg, args...))
	}
	if gomaxecs.IsECS() {
		if _, err := gomaxecs.Set(gomaxecs.WithLogger(logf)); err != nil {
			ll.Warn("Failed to set GOMAXPROCS from ECS task limits", slog.Any("error", err))
		}
	} else if _, err := maxprocs.Set(maxprocs.Logger(logf)); err != nil {
		ll.Warn("Failed to set GOMAXPROCS from cgroup quota", slog.Any("error", err))
	}

	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(t.memLimitRatio),
		memlimit.WithLogger(ll),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		ll.Warn("Failed to set memory limit", slog.Float64("ratio", t.memLimitRatio), slog.Any("error", err))
	}

	if t.gcPercent >= 0 {
		debug.SetGCPercent(t.gcPercent)
		ll.Info("GOGC not set, using default", slog.Int("gcPercent", t.gcPercent))
	}
}

func main() {
	t, err := tuningFromEnv(os.Getenv)
	if err != nil {
		slog.Warn("Ignoring invalid runtime tuning", slog.Any("error", err))
	}
	t.apply(slog.Default())

	cmd.Execute()
}
