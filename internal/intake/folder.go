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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cardinalhq/scanrunner/internal/cloudstorage"
)

// ReservedPrefix marks scanner subfolders that are never intake folders.
const ReservedPrefix = "_"

// PageExtensions are the page-image extensions picked up from an intake
// folder, compared case-insensitively.
var PageExtensions = []string{".tif", ".tiff", ".jpg", ".jpeg", ".png"}

// IsPage reports whether name has a recognised page extension. AppleDouble
// "._" sidecars written by macOS shares are never pages.
func IsPage(name string) bool {
	if strings.HasPrefix(name, "._") {
		return false
	}
	return slices.Contains(PageExtensions, strings.ToLower(filepath.Ext(name)))
}

// ListFolders returns the names of the pending intake folders under root,
// sorted by name.
func ListFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ReservedPrefix) {
			continue
		}
		ret = append(ret, e.Name())
	}
	return ret, nil
}

// ListPages returns the full paths of the page files directly inside dir,
// sorted by file name.
func ListPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsPage(e.Name()) {
			continue
		}
		ret = append(ret, filepath.Join(dir, e.Name()))
	}
	return ret, nil
}

var rename = os.Rename

// moveFolder moves src into dstParent and returns the new path. When a
// folder of the same name is already there a numeric suffix is added, so an
// earlier attempt is never overwritten.
func moveFolder(src, dstParent string) (string, error) {
	if err := os.MkdirAll(dstParent, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(src)
	dst := filepath.Join(dstParent, base)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return "", err
		}
		dst = filepath.Join(dstParent, base+"."+strconv.Itoa(i))
	}

	err := rename(src, dst)
	if err == nil {
		return dst, nil
	}
	if !crossDevice(err) {
		return "", err
	}

	// Success and error folders may live on another volume.
	if err := copyTree(src, dst); err != nil {
		return "", fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return dst, fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return dst, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			_, err := cloudstorage.CopyFile(path, target)
			return err
		default:
			return nil
		}
	})
}

// ensureDirs creates the scanner's support folders.
// checkRoot fails unless root exists and is a directory.
func checkRoot(root string) error {
	if root == "" {
		return errors.New("root folder not configured")
	}
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return nil
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
