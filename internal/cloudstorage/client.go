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

// Package cloudstorage writes replicated book files to a storage target,
// which may be a mounted filesystem path, an S3 bucket or an Azure container.
package cloudstorage

import (
	"context"
	"path/filepath"
	"strings"
)

// Client provides a unified interface for writing objects across providers.
type Client interface {
	// UploadObject copies a local file to bucket/key. For filesystem targets
	// the bucket is empty and key is a filesystem path.
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
}

// ClientProvider creates a Client able to write to loc.
type ClientProvider interface {
	NewClient(ctx context.Context, loc Location) (Client, error)
}

// ContentType guesses the MIME type of a page or thumbnail file.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
