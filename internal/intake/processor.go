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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/scanrunner/internal/bookkeeping"
	"github.com/cardinalhq/scanrunner/internal/cloudstorage"
	"github.com/cardinalhq/scanrunner/internal/distribution"
	"github.com/cardinalhq/scanrunner/internal/idgen"
	"github.com/cardinalhq/scanrunner/internal/logctx"
	"github.com/cardinalhq/scanrunner/internal/thumbnail"
)

// StorageDir is the directory under a storage root that receives originals.
const StorageDir = "001-storage"

// ThumbURLPrefix is where the bookkeeping service publishes thumbnails.
const ThumbURLPrefix = "/thumbs"

type Propagation string

const (
	// PropagationCopy writes thumbnails to the storage's thumbnail path.
	PropagationCopy Propagation = "copy"
	// PropagationUpload posts every thumbnail to the bookkeeping service as
	// soon as it is derived.
	PropagationUpload Propagation = "upload"
)

func ParsePropagation(s string) (Propagation, error) {
	switch p := Propagation(strings.ToLower(strings.TrimSpace(s))); p {
	case PropagationCopy, PropagationUpload:
		return p, nil
	case "":
		return PropagationCopy, nil
	default:
		return "", fmt.Errorf("unknown thumbnail propagation %q (want copy or upload)", s)
	}
}

// Bookkeeper is the part of the bookkeeping service a folder attempt talks to.
type Bookkeeper interface {
	ResolveBookID(ctx context.Context, bookName string) (bookkeeping.ID, error)
	UploadThumbnail(ctx context.Context, bookName, originalName string, data []byte) error
	CompleteScan(ctx context.Context, req bookkeeping.CompleteScanRequest) error
	WriteStorageStats(ctx context.Context, update bookkeeping.StorageStatUpdate) error
}

type Deriver interface {
	DeriveAll(pages []string, dir string) (map[string]string, error)
}

type Chooser interface {
	Select(targets []bookkeeping.Storage, usage []bookkeeping.StorageStat) (distribution.Candidate, bool)
}

type ProcessorConfig struct {
	Propagation Propagation
	// StrictThumbnails turns any page derivation failure into a folder error.
	StrictThumbnails bool
	// PersistUsage posts the page count to the service after a success.
	PersistUsage bool
}

// Processor drives one intake folder at a time through lookup, storage
// selection, thumbnail derivation, replication, notification and relocation.
type Processor struct {
	cfg     ProcessorConfig
	books   Bookkeeper
	deriver Deriver
	chooser Chooser
	storage cloudstorage.ClientProvider

	nextID func() int64
	now    func() time.Time
}

type ProcessorOption func(*Processor)

// WithIDSource replaces the sonyflake attempt ID generator.
func WithIDSource(f func() int64) ProcessorOption {
	return func(p *Processor) {
		p.nextID = f
	}
}

// WithClock replaces time.Now for the usage date and durations.
func WithClock(f func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = f
	}
}

func NewProcessor(
	cfg ProcessorConfig,
	books Bookkeeper,
	deriver Deriver,
	chooser Chooser,
	storage cloudstorage.ClientProvider,
	opts ...ProcessorOption,
) *Processor {
	if cfg.Propagation == "" {
		cfg.Propagation = PropagationCopy
	}
	p := &Processor{
		cfg:     cfg,
		books:   books,
		deriver: deriver,
		chooser: chooser,
		storage: storage,
		nextID:  idgen.NextAttemptID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one folder attempt to a terminal outcome. targets and usage
// are only read.
func (p *Processor) Process(
	ctx context.Context,
	scanner bookkeeping.Scanner,
	folderName string,
	targets []bookkeeping.Storage,
	usage []bookkeeping.StorageStat,
) *Result {
	start := p.now()
	folderPath := filepath.Join(scanner.RootFolder, folderName)
	res := &Result{
		Folder:   folderName,
		LogID:    p.nextID(),
		Location: folderPath,
	}
	ctx, ll := logctx.With(ctx,
		slog.String("scanner", scanner.Label()),
		slog.String("folder", folderName),
		slog.Int64("logId", res.LogID),
	)

	p.run(ctx, scanner, folderPath, res, targets, usage)

	res.Duration = p.now().Sub(start)
	recordFolder(ctx, scanner.Label(), res)

	switch res.Outcome {
	case OutcomeSuccess:
		ll.Info("Folder processed",
			slog.String("bookId", string(res.BookID)),
			slog.String("storage", res.Storage.Name),
			slog.Int("pages", len(res.Pages)),
			slog.Duration("elapsed", res.Duration))
	case OutcomeDeferred:
		ll.Warn("No storage target available, folder left in place")
	default:
		ll.Error("Folder moved to error folder",
			slog.String("location", res.Location),
			slog.Any("error", res.Err))
	}
	return res
}

func (p *Processor) run(
	ctx context.Context,
	scanner bookkeeping.Scanner,
	folderPath string,
	res *Result,
	targets []bookkeeping.Storage,
	usage []bookkeeping.StorageStat,
) {
	ll := logctx.FromContext(ctx)
	folderName := res.Folder

	bookID, err := p.books.ResolveBookID(ctx, folderName)
	if err != nil {
		p.fail(ctx, scanner, res, fmt.Errorf("%w: %w", ErrLookup, err))
		return
	}
	res.BookID = bookID

	cand, ok := p.chooser.Select(targets, usage)
	if !ok {
		res.Outcome = OutcomeDeferred
		res.Err = ErrNoStorage
		return
	}
	res.Storage = cand
	ll.Debug("Storage selected",
		slog.String("storage", cand.Name),
		slog.Int64("usageToday", cand.Usage))

	pages, err := ListPages(folderPath)
	if err != nil {
		p.fail(ctx, scanner, res, fmt.Errorf("%w: list pages: %w", ErrReplication, err))
		return
	}
	if len(pages) == 0 {
		ll.Warn("Folder has no page files, reporting an empty book",
			slog.Any("extensions", PageExtensions))
	}

	staging := filepath.Join(scanner.LocalThumbsPath, folderName)
	thumbs, err := p.derive(ctx, pages, staging)
	if err != nil {
		p.fail(ctx, scanner, res, err)
		return
	}

	if p.cfg.Propagation == PropagationUpload {
		if err := p.upload(ctx, folderName, pages, thumbs); err != nil {
			p.fail(ctx, scanner, res, err)
			return
		}
	}

	if err := p.replicate(ctx, cand.Storage, folderName, pages, thumbs); err != nil {
		p.fail(ctx, scanner, res, err)
		return
	}

	records := PageRecords(folderName, pages)
	err = p.books.CompleteScan(ctx, bookkeeping.CompleteScanRequest{
		BookID:    bookID,
		StorageID: cand.ID,
		ScannerID: scanner.ID,
		LogID:     res.LogID,
		FileList:  records,
	})
	if err != nil {
		p.fail(ctx, scanner, res, fmt.Errorf("%w: %w", ErrNotification, err))
		return
	}
	res.Pages = records
	res.Outcome = OutcomeSuccess

	if dst, err := moveFolder(folderPath, scanner.SuccessFolder); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrRelocation, err)
		ll.Error("Failed to move folder to success folder", slog.Any("error", err))
	} else {
		res.Location = dst
	}
	if err := os.RemoveAll(staging); err != nil {
		ll.Warn("Failed to remove thumbnail staging", slog.String("path", staging), slog.Any("error", err))
	}

	if p.cfg.PersistUsage && len(records) > 0 {
		update := bookkeeping.StorageStatUpdate{
			StorageID: cand.ID,
			Date:      p.now().UTC().Format(time.DateOnly),
			PagesSent: int64(len(records)),
			Note:      folderName,
		}
		if err := p.books.WriteStorageStats(ctx, update); err != nil {
			ll.Warn("Failed to persist storage usage", slog.Any("error", err))
		}
	}
}

// derive clears the staging directory and derives every page into it. Page
// failures are fatal only in strict mode.
func (p *Processor) derive(ctx context.Context, pages []string, staging string) (map[string]string, error) {
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("%w: clear staging %s: %w", ErrDerivation, staging, err)
	}
	thumbs, err := p.deriver.DeriveAll(pages, staging)
	if err == nil {
		return thumbs, nil
	}
	if thumbs == nil || p.cfg.StrictThumbnails {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}

	ll := logctx.FromContext(ctx)
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			ll.Warn("Thumbnail derivation failed, continuing", slog.Any("error", e))
		}
	} else {
		ll.Warn("Thumbnail derivation failed, continuing", slog.Any("error", err))
	}
	return thumbs, nil
}

func (p *Processor) upload(ctx context.Context, folderName string, pages []string, thumbs map[string]string) error {
	for _, page := range pages {
		thumb, ok := thumbs[page]
		if !ok {
			continue
		}
		data, err := os.ReadFile(thumb)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpload, err)
		}
		if err := p.books.UploadThumbnail(ctx, folderName, filepath.Base(thumb), data); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUpload, filepath.Base(thumb), err)
		}
	}
	return nil
}

// replicate copies the originals to <root>/001-storage/<book>/ and, in copy
// mode, the thumbnails to <thumbs>/<book>/. Files already written stay in
// place when a later copy fails.
func (p *Processor) replicate(ctx context.Context, target bookkeeping.Storage, folderName string, pages []string, thumbs map[string]string) error {
	root, err := cloudstorage.ParseLocation(target.RootPath)
	if err != nil {
		return fmt.Errorf("%w: storage %s: %w", ErrReplication, target.ID, err)
	}
	client, err := p.storage.NewClient(ctx, root)
	if err != nil {
		return fmt.Errorf("%w: storage %s: %w", ErrReplication, target.ID, err)
	}
	for _, page := range pages {
		key := root.Key(StorageDir, folderName, filepath.Base(page))
		if err := client.UploadObject(ctx, root.Bucket, key, page); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrReplication, filepath.Base(page), err)
		}
	}

	if p.cfg.Propagation != PropagationCopy || len(thumbs) == 0 {
		return nil
	}
	if target.ThumbsPath == "" {
		return fmt.Errorf("%w: storage %s has no thumbnail path", ErrReplication, target.ID)
	}
	thumbRoot, err := cloudstorage.ParseLocation(target.ThumbsPath)
	if err != nil {
		return fmt.Errorf("%w: storage %s: %w", ErrReplication, target.ID, err)
	}
	thumbClient, err := p.storage.NewClient(ctx, thumbRoot)
	if err != nil {
		return fmt.Errorf("%w: storage %s: %w", ErrReplication, target.ID, err)
	}
	for _, page := range pages {
		thumb, ok := thumbs[page]
		if !ok {
			continue
		}
		key := thumbRoot.Key(folderName, filepath.Base(thumb))
		if err := thumbClient.UploadObject(ctx, thumbRoot.Bucket, key, thumb); err != nil {
			return fmt.Errorf("%w: thumbnail %s: %w", ErrReplication, filepath.Base(thumb), err)
		}
	}
	return nil
}

// fail records an error outcome and moves the folder to the error folder.
func (p *Processor) fail(ctx context.Context, scanner bookkeeping.Scanner, res *Result, cause error) {
	res.Outcome = OutcomeError
	res.Err = cause
	dst, err := moveFolder(res.Location, scanner.ErrorFolder)
	if err != nil {
		res.Err = multierror.Append(cause, fmt.Errorf("%w: %w", ErrRelocation, err))
		logctx.FromContext(ctx).Error("Failed to move folder to error folder", slog.Any("error", err))
		return
	}
	res.Location = dst
}

// PageRecords builds the completion file list. Every page references the
// thumbnail URL it is expected at, whether or not derivation succeeded.
func PageRecords(folderName string, pages []string) []bookkeeping.PageRecord {
	names := thumbnail.Names(pages)
	ret := make([]bookkeeping.PageRecord, 0, len(pages))
	for i, page := range pages {
		ret = append(ret, bookkeeping.PageRecord{
			FileName:         fmt.Sprintf("%s - Page %d", folderName, i+1),
			OriginalFileName: filepath.Base(page),
			ImageURL:         path.Join(ThumbURLPrefix, folderName, names[page]),
		})
	}
	return ret
}
