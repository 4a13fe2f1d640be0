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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	folderCounter  metric.Int64Counter
	pageCounter    metric.Int64Counter
	folderDuration metric.Float64Histogram
	cycleCounter   metric.Int64Counter
	cycleDuration  metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/scanrunner/internal/intake")

	var err error
	folderCounter, err = meter.Int64Counter(
		"scanrunner.intake.folders",
		metric.WithDescription("Intake folders processed, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create intake.folders counter: %w", err))
	}

	pageCounter, err = meter.Int64Counter(
		"scanrunner.intake.pages",
		metric.WithDescription("Pages replicated to storage targets"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create intake.pages counter: %w", err))
	}

	folderDuration, err = meter.Float64Histogram(
		"scanrunner.intake.folder.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time taken to drive one folder to a terminal outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create intake.folder.duration histogram: %w", err))
	}

	cycleCounter, err = meter.Int64Counter(
		"scanrunner.intake.cycles",
		metric.WithDescription("Scan cycles run, by status"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create intake.cycles counter: %w", err))
	}

	cycleDuration, err = meter.Float64Histogram(
		"scanrunner.intake.cycle.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time taken by one pass over every scanner"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create intake.cycle.duration histogram: %w", err))
	}
}

func recordFolder(ctx context.Context, scanner string, res *Result) {
	attrs := metric.WithAttributes(
		attribute.String("scanner", scanner),
		attribute.String("outcome", res.Outcome.String()),
	)
	folderCounter.Add(ctx, 1, attrs)
	folderDuration.Record(ctx, res.Duration.Seconds(), attrs)
	if res.Outcome == OutcomeSuccess && len(res.Pages) > 0 {
		pageCounter.Add(ctx, int64(len(res.Pages)), metric.WithAttributes(
			attribute.String("scanner", scanner),
			attribute.String("storage", string(res.Storage.ID)),
		))
	}
}

func recordCycle(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	cycleCounter.Add(ctx, 1, attrs)
	cycleDuration.Record(ctx, elapsed.Seconds(), attrs)
}
