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

// Package thumbnail turns scanned page images into small JPEG previews.
package thumbnail

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	// Registered decoders for the page formats scanners produce.
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 400
	DefaultMaxHeight = 550
	DefaultQuality   = 85

	// Extension of every derived thumbnail.
	Ext = ".jpg"
)

// DerivationError reports a page that could not be turned into a thumbnail.
type DerivationError struct {
	Path string
	Err  error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive thumbnail for %s: %v", e.Path, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func DefaultOptions() Options {
	return Options{
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
		Quality:   DefaultQuality,
	}
}

type Deriver struct {
	opts Options
}

// New returns a Deriver; zero option fields take their defaults.
func New(opts Options) *Deriver {
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = def.MaxHeight
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	return &Deriver{opts: opts}
}

func (d *Deriver) Options() Options {
	return d.opts
}

// Derive decodes the page at path and returns the encoded preview.
func (d *Deriver) Derive(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DerivationError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, &DerivationError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}

	data, err := d.encode(src)
	if err != nil {
		return nil, &DerivationError{Path: path, Err: err}
	}
	return data, nil
}

func (d *Deriver) encode(src image.Image) ([]byte, error) {
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}
	w, h := FitSize(b.Dx(), b.Dy(), d.opts.MaxWidth, d.opts.MaxHeight)

	// Transparent regions end up white, matching a plain RGB conversion of
	// a scanned page.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: d.opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DeriveFile writes the thumbnail for src into dir and returns its path.
func (d *Deriver) DeriveFile(src, dir string) (string, error) {
	return d.deriveTo(src, filepath.Join(dir, Name(src)))
}

func (d *Deriver) deriveTo(src, dst string) (string, error) {
	data, err := d.Derive(src)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", &DerivationError{Path: src, Err: fmt.Errorf("write %s: %w", dst, err)}
	}
	return dst, nil
}

// DeriveAll derives every page into dir. A failing page does not stop its
// siblings; the returned map holds the thumbnails that were written, keyed by
// source path, and the error aggregates every *DerivationError. Files are
// named by Names.
func (d *Deriver) DeriveAll(pages []string, dir string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail staging %s: %w", dir, err)
	}
	names := Names(pages)
	written := make(map[string]string, len(pages))
	var errs *multierror.Error
	for _, page := range pages {
		dst, err := d.deriveTo(page, filepath.Join(dir, names[page]))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		written[page] = dst
	}
	return written, errs.ErrorOrNil()
}

// FitSize scales w×h down to fit within maxW×maxH, keeping the aspect
// ratio. Images that already fit are never enlarged.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return min(nw, maxW), min(nh, maxH)
}

// Name returns the thumbnail filename for a page file.
func Name(pageFile string) string {
	base := filepath.Base(pageFile)
	return strings.TrimSuffix(base, filepath.Ext(base)) + Ext
}

// Names assigns a distinct thumbnail filename to every page of one folder,
// in order. A page keeps its plain Name unless an earlier page already took
// it; then the source extension is folded in ("p1_png.jpg") and, if that is
// taken too, a counter. Names are compared case-insensitively.
func Names(pages []string) map[string]string {
	taken := make(map[string]bool, len(pages))
	ret := make(map[string]string, len(pages))
	for _, page := range pages {
		name := Name(page)
		if taken[strings.ToLower(name)] {
			base := filepath.Base(page)
			ext := filepath.Ext(base)
			alt := strings.TrimSuffix(base, ext) + "_" + strings.ToLower(strings.TrimPrefix(ext, "."))
			name = alt + Ext
			for i := 2; taken[strings.ToLower(name)]; i++ {
				name = fmt.Sprintf("%s-%d%s", alt, i, Ext)
			}
		}
		taken[strings.ToLower(name)] = true
		ret[page] = name
	}
	return ret
}
