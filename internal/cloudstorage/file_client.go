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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileClientProvider creates clients that write to the local filesystem,
// including mounted network shares.
type FileClientProvider struct{}

func NewFileClientProvider() ClientProvider {
	return &FileClientProvider{}
}

func (p *FileClientProvider) NewClient(_ context.Context, loc Location) (Client, error) {
	if loc.Provider != ProviderFile {
		return nil, fmt.Errorf("file client cannot write to %s", loc)
	}
	return &fileClient{}, nil
}

type fileClient struct{}

func (c *fileClient) path(bucket, key string) string {
	return filepath.Join(bucket, filepath.FromSlash(key))
}

// UploadObject copies a local file to bucket/key. An existing destination is
// overwritten.
func (c *fileClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size, err := CopyFile(sourceFilename, c.path(bucket, key))
	recordUpload(ctx, ProviderFile, bucket, size, err)
	return err
}

// CopyFile copies srcPath to dstPath, creating the destination directory and
// preserving mode and modification time. It returns the bytes written.
func CopyFile(srcPath, dstPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	fi, err := src.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("copy %s to %s: %w", srcPath, dstPath, err)
	}
	if err := out.Close(); err != nil {
		return n, err
	}
	return n, os.Chtimes(dstPath, fi.ModTime(), fi.ModTime())
}
