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
	"time"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/distribution"
)

type Outcome int

const (
	// OutcomeSuccess means the book was replicated and reported, and the
	// folder belongs in the success folder.
	OutcomeSuccess Outcome = iota
	// OutcomeError means the folder belongs in the error folder and needs an
	// operator before it is retried.
	OutcomeError
	// OutcomeDeferred means the folder was left in place for the next cycle.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Result records one folder attempt.
type Result struct {
	Folder   string
	LogID    int64
	Outcome  Outcome
	BookID   bookkeeping.ID
	Storage  distribution.Candidate
	Pages    []bookkeeping.PageRecord
	Location string
	Duration time.Duration
	// Err is nil only for a clean success. It wraps one of the package
	// sentinels.
	Err error
}
