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

package cloudstorage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

type Provider string

const (
	ProviderFile  Provider = "file"
	ProviderS3    Provider = "s3"
	ProviderAzure Provider = "azure"
)

// Location is a parsed storage root such as /mnt/nas, s3://bucket/prefix or
// azblob://account/container/prefix.
type Location struct {
	Provider Provider
	// Account is the Azure storage account; empty for other providers.
	Account string
	Bucket  string
	Prefix  string
}

func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("empty storage location")
	}

	switch {
	case strings.HasPrefix(raw, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(raw, "s3://"), "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("storage location %q has no bucket", raw)
		}
		return Location{Provider: ProviderS3, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil

	case strings.HasPrefix(raw, "azblob://"):
		parts := strings.SplitN(strings.TrimPrefix(raw, "azblob://"), "/", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Location{}, fmt.Errorf("storage location %q must be azblob://account/container[/prefix]", raw)
		}
		loc := Location{Provider: ProviderAzure, Account: parts[0], Bucket: parts[1]}
		if len(parts) == 3 {
			loc.Prefix = strings.Trim(parts[2], "/")
		}
		return loc, nil

	case strings.Contains(raw, "://"):
		return Location{}, fmt.Errorf("unsupported storage location scheme in %q", raw)

	default:
		return Location{Provider: ProviderFile, Prefix: filepath.Clean(raw)}, nil
	}
}

// Key joins parts under the location prefix using the provider's separator.
func (l Location) Key(parts ...string) string {
	if l.Provider == ProviderFile {
		return filepath.Join(append([]string{l.Prefix}, parts...)...)
	}
	return strings.TrimPrefix(path.Join(append([]string{l.Prefix}, parts...)...), "/")
}

func (l Location) String() string {
	switch l.Provider {
	case ProviderS3:
		return "s3://" + path.Join(l.Bucket, l.Prefix)
	case ProviderAzure:
		return "azblob://" + path.Join(l.Account, l.Bucket, l.Prefix)
	default:
		return l.Prefix
	}
}
