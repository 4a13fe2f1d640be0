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

package bookkeeping

import "path/filepath"

// Support folders created under a scanner root when the service leaves
// them blank. The leading underscore keeps them out of intake listings.
const (
	DefaultSuccessDir = "_success"
	DefaultErrorDir   = "_errors"
	DefaultThumbsDir  = "_thumbs"
)

// WithDefaults fills blank support folders with locations under the root.
func (s Scanner) WithDefaults() Scanner {
	if s.SuccessFolder == "" {
		s.SuccessFolder = filepath.Join(s.RootFolder, DefaultSuccessDir)
	}
	if s.ErrorFolder == "" {
		s.ErrorFolder = filepath.Join(s.RootFolder, DefaultErrorDir)
	}
	if s.LocalThumbsPath == "" {
		s.LocalThumbsPath = filepath.Join(s.RootFolder, DefaultThumbsDir)
	}
	return s
}

// Label is the name used for the scanner in logs and metrics.
func (s Scanner) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.ID != "":
		return string(s.ID)
	default:
		return s.RootFolder
	}
}
