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

// Package distribution picks the storage target that receives the next book.
package distribution

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
)

type Policy string

const (
	// PolicyFixed first serves targets below their fixed daily page minimum.
	PolicyFixed Policy = "fixed"
	// PolicyPercentage first serves targets below their share of today's pages.
	PolicyPercentage Policy = "percentage"
	// PolicyWeighted draws a target at random, proportionally to its weight.
	PolicyWeighted Policy = "weighted"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFixed, PolicyPercentage, PolicyWeighted:
		return p, nil
	case "":
		return "", fmt.Errorf("distribution policy is required")
	default:
		return "", fmt.Errorf("unknown distribution policy %q (want fixed, percentage or weighted)", s)
	}
}

// Candidate is a storage target with today's usage attached.
type Candidate struct {
	bookkeeping.Storage
	Usage int64
}

type Selector struct {
	policy Policy
	rnd    *rand.Rand
}

// Option is a functional option for configuring the Selector.
type Option func(*Selector)

// WithRand injects the random source used by the weighted draw.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.rnd = r
	}
}

func New(policy Policy, opts ...Option) *Selector {
	s := &Selector{policy: policy}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

func (s *Selector) Policy() Policy {
	return s.policy
}

// Select returns the target that should receive the next book, or false when
// no target has a positive weight and none is below its minimum. Stats
// missing for a target count as zero; several stats for the same target are
// summed, so callers may append in-cycle increments.
func (s *Selector) Select(targets []bookkeeping.Storage, usage []bookkeeping.StorageStat) (Candidate, bool) {
	cands := Candidates(targets, usage)
	if len(cands) == 0 {
		return Candidate{}, false
	}

	switch s.policy {
	case PolicyFixed:
		if c, ok := belowFixedMinimum(cands); ok {
			return c, true
		}
	case PolicyPercentage:
		if c, ok := belowPercentMinimum(cands); ok {
			return c, true
		}
	}

	total := TotalWeight(cands)
	if total == 0 {
		return Candidate{}, false
	}
	return WeightedAt(cands, s.rnd.Uint64N(total)), true
}

// Candidates pairs every target with its usage, preserving input order.
func Candidates(targets []bookkeeping.Storage, usage []bookkeeping.StorageStat) []Candidate {
	sent := make(map[bookkeeping.ID]int64, len(usage))
	for _, u := range usage {
		sent[u.StorageID] += u.PagesSentToday
	}
	ret := make([]Candidate, 0, len(targets))
	for _, t := range targets {
		ret = append(ret, Candidate{Storage: t, Usage: sent[t.ID]})
	}
	return ret
}

// FixedRatio is usage/fixed minimum, or +Inf for targets without a floor.
func FixedRatio(c Candidate) float64 {
	if c.FixedDailyMinimum <= 0 {
		return math.Inf(1)
	}
	return float64(c.Usage) / float64(c.FixedDailyMinimum)
}

// PercentOfTotal is the share of total as a percentage; the +1 keeps the
// first allocation of the day from dividing by zero.
func PercentOfTotal(c Candidate, total int64) float64 {
	return float64(c.Usage) / float64(total+1) * 100
}

func belowFixedMinimum(cands []Candidate) (Candidate, bool) {
	var (
		best      Candidate
		bestRatio = math.Inf(1)
		found     bool
	)
	for _, c := range cands {
		if c.FixedDailyMinimum <= 0 || c.Usage >= c.FixedDailyMinimum {
			continue
		}
		if r := FixedRatio(c); !found || r < bestRatio {
			best, bestRatio, found = c, r, true
		}
	}
	return best, found
}

func belowPercentMinimum(cands []Candidate) (Candidate, bool) {
	var total int64
	for _, c := range cands {
		total += c.Usage
	}

	var (
		best    Candidate
		bestPct float64
		found   bool
	)
	for _, c := range cands {
		pct := PercentOfTotal(c, total)
		if pct >= c.PercentDailyMinimum {
			continue
		}
		if !found || pct < bestPct {
			best, bestPct, found = c, pct, true
		}
	}
	return best, found
}

// TotalWeight sums the positive weights. Non-positive weights contribute
// nothing.
func TotalWeight(cands []Candidate) uint64 {
	var total uint64
	for _, c := range cands {
		if c.Weight > 0 {
			total += uint64(c.Weight)
		}
	}
	return total
}

// WeightedAt maps a point in [0, TotalWeight) to the candidate owning it.
// Each candidate owns a run of points as long as its weight, in input order.
func WeightedAt(cands []Candidate, point uint64) Candidate {
	var last Candidate
	for _, c := range cands {
		if c.Weight <= 0 {
			continue
		}
		w := uint64(c.Weight)
		if point < w {
			return c
		}
		point -= w
		last = c
	}
	return last
}
