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

// Package idgen issues the attempt identifiers sent as logId with every
// completion notification.
package idgen

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Epoch is the sonyflake start time; IDs count 10ms ticks from it.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// AttemptIDs hands out positive, roughly time-ordered int64 values.
type AttemptIDs struct {
	sf *sonyflake.Sonyflake
}

// New returns a generator. A zero machineID lets sonyflake derive one from
// the host's private IP; hosts without one get a random machine ID.
func New(machineID uint16) (*AttemptIDs, error) {
	settings := sonyflake.Settings{StartTime: Epoch}
	if machineID != 0 {
		settings.MachineID = fixedMachineID(machineID)
	}
	sf, err := sonyflake.New(settings)
	if err != nil && machineID == 0 {
		settings.MachineID = fixedMachineID(uint16(rand.UintN(1 << 16)))
		sf, err = sonyflake.New(settings)
	}
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create sonyflake instance")
	}
	return &AttemptIDs{sf: sf}, nil
}

func fixedMachineID(id uint16) func() (uint16, error) {
	return func() (uint16, error) { return id, nil }
}

// Next returns a new ID. If the sonyflake clock overflows a random positive
// value is returned instead.
func (g *AttemptIDs) Next() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64N(1<<62) + 1
	}
	return int64(v)
}

var (
	defaultOnce sync.Once
	defaultGen  *AttemptIDs
)

// NextAttemptID draws from a process-wide generator.
func NextAttemptID() int64 {
	defaultOnce.Do(func() {
		g, err := New(0)
		if err != nil {
			panic(err)
		}
		defaultGen = g
	})
	return defaultGen.Next()
}
