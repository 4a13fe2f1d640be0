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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for logs.
	maxErrorBody = 4 << 10
)

var (
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/scanrunner/internal/bookkeeping")

	var err error
	requestCounter, err = meter.Int64Counter(
		"scanrunner.bookkeeping.requests",
		metric.WithDescription("Number of calls made to the bookkeeping service"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bookkeeping.requests counter: %w", err))
	}

	requestDuration, err = meter.Float64Histogram(
		"scanrunner.bookkeeping.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of calls made to the bookkeeping service"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bookkeeping.request.duration histogram: %w", err))
	}
}

// ErrBookNotFound is returned by ResolveBookID when the service has no book
// in scanning state under the requested name.
var ErrBookNotFound = errors.New("book not found")

// StatusError reports a non-success HTTP status from the service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the bookkeeping service over HTTP. Every call is bounded by
// the configured request timeout; a timeout surfaces as an ordinary error.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout overrides DefaultRequestTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid bookkeeping base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid bookkeeping base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c, nil
}

// ListStorages returns the active storage targets.
func (c *Client) ListStorages(ctx context.Context) ([]Storage, error) {
	var wire []wireStorage
	if err := c.getJSON(ctx, "/api/storages", &wire); err != nil {
		return nil, err
	}
	ret := make([]Storage, 0, len(wire))
	for _, w := range wire {
		s, err := w.toStorage()
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

// ListStorageStats returns today's per-storage page counters.
func (c *Client) ListStorageStats(ctx context.Context) ([]StorageStat, error) {
	var wire []wireStorageStat
	if err := c.getJSON(ctx, "/api/storages/stats", &wire); err != nil {
		return nil, err
	}
	ret := make([]StorageStat, 0, len(wire))
	for _, w := range wire {
		st, err := w.toStat()
		if err != nil {
			return nil, err
		}
		ret = append(ret, st)
	}
	return ret, nil
}

// ListScanners returns the active scanner sources in the order the service
// lists them.
func (c *Client) ListScanners(ctx context.Context) ([]Scanner, error) {
	var wire []wireScanner
	if err := c.getJSON(ctx, "/api/scanners", &wire); err != nil {
		return nil, err
	}
	ret := make([]Scanner, 0, len(wire))
	for _, w := range wire {
		sc, err := w.toScanner()
		if err != nil {
			return nil, err
		}
		ret = append(ret, sc)
	}
	return ret, nil
}

// ResolveBookID looks a book up by its exact folder name. Anything other
// than 200 is a failure; 404 wraps ErrBookNotFound.
func (c *Client) ResolveBookID(ctx context.Context, bookName string) (ID, error) {
	var resp struct {
		BookID ID `json:"bookId"`
	}
	err := c.postJSON(ctx, "/api/books/byname", map[string]string{"bookName": bookName}, &resp, http.StatusOK)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %q: %w", ErrBookNotFound, bookName, err)
		}
		return "", err
	}
	if resp.BookID == "" {
		return "", fmt.Errorf("%w: no bookId for %q", ErrMalformedResponse, bookName)
	}
	return resp.BookID, nil
}

// UploadThumbnail sends one derived thumbnail. The service stores it under
// its public thumbnail area as <bookName>/<originalName>.
func (c *Client) UploadThumbnail(ctx context.Context, bookName, originalName string, data []byte) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("thumbnail", originalName)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write thumbnail content: %w", err)
	}
	if err := writer.WriteField("originalName", originalName); err != nil {
		return fmt.Errorf("failed to write originalName field: %w", err)
	}
	if err := writer.WriteField("bookName", bookName); err != nil {
		return fmt.Errorf("failed to write bookName field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/api/upload/thumbnail", writer.FormDataContentType(), body.Bytes(), nil, 0)
}

// CompleteScan reports a fully replicated book.
func (c *Client) CompleteScan(ctx context.Context, req CompleteScanRequest) error {
	if req.FileList == nil {
		req.FileList = []PageRecord{}
	}
	return c.postJSON(ctx, "/api/scan/complete", req, nil, 0)
}

// WriteStorageStats adds to the stored daily counter of one storage.
func (c *Client) WriteStorageStats(ctx context.Context, update StorageStatUpdate) error {
	return c.postJSON(ctx, "/api/storages/writestats", update, nil, 0)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out, http.StatusOK)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any, want int) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", payload, out, want)
}

// do performs one request. want == 0 accepts any 2xx status.
func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte, out any, want int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if resp != nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	)
	requestCounter.Add(ctx, 1, attrs)
	requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if want != 0 {
		ok = resp.StatusCode == want
	}
	if !ok {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrMalformedResponse, method, path, err)
	}
	return nil
}
