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

import "errors"

// Failure classes of a folder attempt. Every class except ErrNoStorage sends
// the folder to the scanner's error folder.
var (
	ErrLookup       = errors.New("book lookup failed")
	ErrNoStorage    = errors.New("no storage target available")
	ErrDerivation   = errors.New("thumbnail derivation failed")
	ErrUpload       = errors.New("thumbnail upload failed")
	ErrReplication  = errors.New("replication failed")
	ErrNotification = errors.New("completion notification failed")

	// ErrRelocation reports a folder that could not be moved to its terminal
	// location. It never changes the outcome.
	ErrRelocation = errors.New("folder relocation failed")
)
