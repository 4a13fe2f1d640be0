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

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedResponse is returned when the bookkeeping service answers with
// a payload that cannot be turned into a typed record.
var ErrMalformedResponse = errors.New("malformed bookkeeping response")

// ID is an identifier issued by the bookkeeping service. The service emits
// some identifiers as JSON numbers and others as strings, so both forms are
// accepted and normalised to their decimal/string representation.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes canonical integers back as numbers so the service sees
// the same type it handed out. Anything else, "01" or "+5" included, stays a
// string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// number decodes JSON numbers that MySQL DECIMAL/SUM columns sometimes
// deliver as strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// Storage is one destination that can receive a book's files, together with
// its daily distribution quota.
type Storage struct {
	ID                  ID
	Name                string
	RootPath            string
	ThumbsPath          string
	Weight              int
	FixedDailyMinimum   int64
	PercentDailyMinimum float64
}

// StorageStat is the number of pages sent to one storage today.
type StorageStat struct {
	StorageID      ID
	PagesSentToday int64
}

// Scanner identifies one physical intake location.
type Scanner struct {
	ID              ID
	Name            string
	RootFolder      string
	SuccessFolder   string
	ErrorFolder     string
	LocalThumbsPath string
}

// PageRecord describes one replicated page in the completion notification.
type PageRecord struct {
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName"`
	ImageURL         string `json:"imageUrl"`
}

// CompleteScanRequest is the payload of POST /api/scan/complete.
type CompleteScanRequest struct {
	BookID    ID           `json:"bookId"`
	StorageID ID           `json:"storageId,omitempty"`
	ScannerID ID           `json:"scannerId,omitempty"`
	LogID     int64        `json:"logId,omitempty"`
	FileList  []PageRecord `json:"fileList"`
}

// StorageStatUpdate is the payload of POST /api/storages/writestats. The
// service adds PagesSent to the stored total for the given day.
type StorageStatUpdate struct {
	StorageID ID     `json:"storage_id"`
	Date      string `json:"data"`
	PagesSent int64  `json:"total_tifs_enviados"`
	Note      string `json:"obs,omitempty"`
}

type wireStorage struct {
	ID                  ID      `json:"id"`
	Name                string  `json:"nome"`
	RootPath            string  `json:"root_path"`
	ThumbsPath          string  `json:"thumbs_path"`
	Weight              *number `json:"peso"`
	FixedDailyMinimum   *number `json:"minimo_diario_fixo"`
	PercentDailyMinimum *number `json:"percentual_minimo_diario"`
}

func (w wireStorage) toStorage() (Storage, error) {
	if w.ID == "" {
		return Storage{}, fmt.Errorf("%w: storage without id", ErrMalformedResponse)
	}
	if strings.TrimSpace(w.RootPath) == "" {
		return Storage{}, fmt.Errorf("%w: storage %s has no root_path", ErrMalformedResponse, w.ID)
	}
	s := Storage{
		ID:         w.ID,
		Name:       w.Name,
		RootPath:   w.RootPath,
		ThumbsPath: w.ThumbsPath,
	}
	if w.Weight != nil {
		s.Weight = int(*w.Weight)
	}
	if w.FixedDailyMinimum != nil {
		s.FixedDailyMinimum = int64(*w.FixedDailyMinimum)
	}
	if w.PercentDailyMinimum != nil {
		s.PercentDailyMinimum = float64(*w.PercentDailyMinimum)
	}
	if s.Name == "" {
		s.Name = string(s.ID)
	}
	return s, nil
}

type wireStorageStat struct {
	StorageID ID      `json:"storage_id"`
	Total     *number `json:"total_tifs_enviados"`
}

func (w wireStorageStat) toStat() (StorageStat, error) {
	if w.StorageID == "" {
		return StorageStat{}, fmt.Errorf("%w: storage stat without storage_id", ErrMalformedResponse)
	}
	st := StorageStat{StorageID: w.StorageID}
	if w.Total != nil {
		st.PagesSentToday = int64(*w.Total)
	}
	return st, nil
}

type wireScanner struct {
	ID              ID     `json:"id"`
	Name            string `json:"nome"`
	RootFolder      string `json:"scanner_root_folder"`
	SuccessFolder   string `json:"success_folder"`
	ErrorFolder     string `json:"error_folder"`
	LocalThumbsPath string `json:"local_thumbs_path"`
}

func (w wireScanner) toScanner() (Scanner, error) {
	if strings.TrimSpace(w.RootFolder) == "" {
		return Scanner{}, fmt.Errorf("%w: scanner %q has no scanner_root_folder", ErrMalformedResponse, w.ID)
	}
	sc := Scanner{
		ID:              w.ID,
		Name:            w.Name,
		RootFolder:      w.RootFolder,
		SuccessFolder:   w.SuccessFolder,
		ErrorFolder:     w.ErrorFolder,
		LocalThumbsPath: w.LocalThumbsPath,
	}
	return sc.WithDefaults(), nil
}
