// Package depot fetches content-addressed assets from the regional depot origin
// and caches them on local disk.
package depot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/sc2-map-indexer/internal/hash/sha256"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/metrics"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/local"
)

// Config controls depot origin addressing.
type Config struct {
	// Host is the origin suffix; requests go to {region}.{Host}:{Port}.
	Host string
	Port int
	// Hosts overrides the full host name for individual regions.
	Hosts   map[string]string
	Timeout time.Duration
}

// Limiter paces requests per region.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Metadata is the result of a header-only probe.
type Metadata struct {
	Size         int64
	LastModified time.Time
	ContentType  string
}

// FetchError reports a failed transfer along with the origin status.
type FetchError struct {
	Region   string
	Filename string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("depot fetch %s/%s failed (status %d): %v", e.Region, e.Filename, e.Status, e.Err)
	}
	return fmt.Sprintf("depot fetch %s/%s failed with status %d", e.Region, e.Filename, e.Status)
}

func (e *FetchError) Unwrap() error {
	if e.Status == http.StatusNotFound || e.Status == http.StatusGone {
		return mapindex.ErrNotFound
	}
	return e.Err
}

// Cache resolves depot filenames to local paths, downloading on miss.
type Cache struct {
	cfg     Config
	shards  *local.ShardStore
	client  *http.Client
	limiter Limiter
	hasher  *sha256.Hasher
	group   singleflight.Group
	logger  *zap.Logger
}

// New constructs a Cache. A nil client gets a default one using cfg.Timeout.
func New(cfg Config, shards *local.ShardStore, client *http.Client, limiter Limiter, logger *zap.Logger) *Cache {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg,
		shards:  shards,
		client:  client,
		limiter: limiter,
		hasher:  sha256.New(),
		logger:  logger,
	}
}

// URL returns the origin URL of filename in region.
func (c *Cache) URL(region, filename string) string {
	host, ok := c.cfg.Hosts[region]
	if !ok || host == "" {
		host = region + "." + c.cfg.Host
	}
	return fmt.Sprintf("http://%s:%d/%s", host, c.cfg.Port, filename)
}

// GetOrFetch returns the local path of filename, downloading it from region on a miss.
// Cached files are never revalidated: the name is derived from the content.
func (c *Cache) GetOrFetch(ctx context.Context, region, filename string) (string, error) {
	path, err := c.shards.PathFor(filename)
	if err != nil {
		return "", fmt.Errorf("resolve cache path: %w", err)
	}
	if exists(path) {
		metrics.ObserveDepot(region, metrics.DepotHit, 0)
		return path, nil
	}

	// Content-addressed names are region independent, so one flight per name.
	// The flight outlives any single caller and is bounded by the client timeout.
	ch := c.group.DoChan(filename, func() (any, error) {
		if exists(path) {
			return nil, nil
		}
		flightCtx, cancel := c.flightContext(ctx)
		defer cancel()
		return nil, c.download(flightCtx, region, filename)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight download", zap.String("filename", filename))
		}
		return path, nil
	}
}

func (c *Cache) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.client.Timeout > 0 {
		return context.WithTimeout(detached, c.client.Timeout)
	}
	return context.WithCancel(detached)
}

// RetrieveHeadOnly probes filename without downloading its body.
// Nothing is cached; the asset must not be assumed present locally afterwards.
func (c *Cache) RetrieveHeadOnly(ctx context.Context, region, filename string) (Metadata, error) {
	resp, err := c.do(ctx, http.MethodHead, region, filename)
	if err != nil {
		return Metadata{}, err
	}
	defer closeBody(resp.Body)

	metrics.ObserveDepot(region, metrics.DepotHead, 0)
	return Metadata{
		Size:         resp.ContentLength,
		LastModified: parseLastModified(resp.Header.Get("Last-Modified")),
		ContentType:  resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Cache) download(ctx context.Context, region, filename string) error {
	path, err := c.shards.EnsurePathFor(filename)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodGet, region, filename)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body)

	body := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &FetchError{Region: region, Filename: filename, Status: resp.StatusCode, Err: fmt.Errorf("gzip: %w", err)}
		}
		defer zr.Close() //nolint:errcheck // reader close only releases buffers
		body = zr
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filename+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	digest := c.hasher.NewDigest()
	written, err := io.Copy(io.MultiWriter(tmp, digest), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		metrics.ObserveDepot(region, metrics.DepotError, 0)
		return &FetchError{Region: region, Filename: filename, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if sha256.IsDigest(stem) && !strings.EqualFold(digest.Hex(), stem) {
		metrics.ObserveDepot(region, metrics.DepotError, 0)
		return &FetchError{
			Region:   region,
			Filename: filename,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("content digest mismatch: got %s", digest.Hex()),
		}
	}

	if modified := parseLastModified(resp.Header.Get("Last-Modified")); !modified.IsZero() {
		if err := os.Chtimes(tmpName, modified, modified); err != nil {
			c.logger.Warn("failed to stamp asset mtime", zap.String("filename", filename), zap.Error(err))
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish cached asset: %w", err)
	}
	committed = true

	metrics.ObserveDepot(region, metrics.DepotMiss, written)
	c.logger.Debug("asset cached",
		zap.String("region", region),
		zap.String("filename", filename),
		zap.Int64("bytes", written),
	)
	return nil
}

func (c *Cache) do(ctx context.Context, method, region, filename string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, region); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(region, filename), nil)
	if err != nil {
		return nil, fmt.Errorf("build depot request: %w", err)
	}
	// HEAD sizes must describe the stored bytes, not a compressed transfer.
	if method == http.MethodGet {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveDepot(region, metrics.DepotError, 0)
		return nil, &FetchError{Region: region, Filename: filename, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		closeBody(resp.Body)
		result := metrics.DepotError
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			result = metrics.DepotNotFound
		}
		metrics.ObserveDepot(region, result, 0)
		return nil, &FetchError{Region: region, Filename: filename, Status: resp.StatusCode}
	}
	return resp, nil
}

// IsTransient reports whether err is a depot fault worth retrying.
func IsTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return !errors.Is(err, mapindex.ErrNotFound) && !mapindex.IsPermanent(err)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func parseLastModified(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
