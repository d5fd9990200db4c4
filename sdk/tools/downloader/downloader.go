// Package downloader provide support for downloading files with resume and
// content hashing.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/hashicorp/go-cleanhttp"
)

// SizeInterval are pre-calculated size interval values.
const (
	SizeIntervalMIB    = 1024 * 1024
	SizeIntervalMIB10  = SizeIntervalMIB * 10
	SizeIntervalMIB100 = SizeIntervalMIB * 100
)

// PartSuffix is appended to the destination name while a transfer is in
// progress.
const PartSuffix = ".part"

// ProgressFunc provides feedback on the progress of a file download.
type ProgressFunc func(src string, currentSize int64, totalSize int64, mibPerSec float64, complete bool)

// Result describes a completed download.
type Result struct {
	Path    string
	Size    int64
	SHA256  string
	Resumed bool
}

// Downloader pulls files over http, resuming partial transfers.
type Downloader struct {
	client *http.Client
	header http.Header
}

// New constructs a downloader. A nil client uses a pooled client. The header
// is added to every request.
func New(client *http.Client, header http.Header) *Downloader {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	return &Downloader{
		client: client,
		header: header.Clone(),
	}
}

// Download pulls down a single file from a url to the destination. Bytes are
// staged in dest+".part". An existing part file is resumed with a range
// request and its bytes are included in the returned hash. The part file is
// renamed to dest once the transfer completes.
func (d *Downloader) Download(ctx context.Context, src string, dest string, progress ProgressFunc, sizeInterval int64) (Result, error) {
	partPath := dest + PartSuffix

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Result{}, fmt.Errorf("download-file: unable to create folder: %w", err)
	}

	res, err := d.transfer(ctx, src, partPath, progress, sizeInterval, true)
	if err != nil {
		return Result{}, err
	}

	if err := os.Rename(partPath, dest); err != nil {
		return Result{}, fmt.Errorf("download-file: unable to finalize %q: %w", dest, err)
	}

	res.Path = dest

	return res, nil
}

// =============================================================================

func (d *Downloader) transfer(ctx context.Context, src string, partPath string, progress ProgressFunc, sizeInterval int64, allowRetry bool) (Result, error) {
	h := sha256.New()

	offset, err := hashExisting(partPath, h)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Result{}, fmt.Errorf("download-file: unable to create request: %w", err)
	}

	for k, v := range d.header {
		req.Header[k] = v
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, errs.New(errs.TransientIO, fmt.Errorf("download-file: request %s: %w", src, err))
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && allowRetry:
		if err := os.Remove(partPath); err != nil {
			return Result{}, fmt.Errorf("download-file: unable to discard partial file: %w", err)
		}

		return d.transfer(ctx, src, partPath, progress, sizeInterval, false)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		flags |= os.O_TRUNC
		h.Reset()
		offset = 0

	default:
		return Result{}, errs.Newf(errs.TransientIO, "download-file: %s: unexpected status %s", src, resp.Status)
	}

	f, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("download-file: unable to open partial file: %w", err)
	}

	totalSize := resp.ContentLength
	if totalSize >= 0 {
		totalSize += offset
	}

	pr := NewProgressReader(progress, sizeInterval)
	body := pr.TrackProgress(src, offset, totalSize, resp.Body)

	n, err := io.Copy(io.MultiWriter(f, h), body)
	if err != nil {
		f.Close()
		return Result{}, errs.New(errs.TransientIO, fmt.Errorf("download-file: %s: transfer interrupted after %d bytes: %w", src, offset+n, err))
	}

	body.Close()

	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("download-file: unable to close partial file: %w", err)
	}

	res := Result{
		Size:    offset + n,
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		Resumed: offset > 0,
	}

	return res, nil
}

func hashExisting(partPath string, h hash.Hash) (int64, error) {
	f, err := os.Open(partPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("download-file: unable to open partial file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return 0, fmt.Errorf("download-file: unable to hash partial file: %w", err)
	}

	return n, nil
}

// =============================================================================

// ProgressReader returns details about the download.
type ProgressReader struct {
	src          string
	currentSize  int64
	totalSize    int64
	lastReported int64
	startTime    time.Time
	startSize    int64
	reader       io.ReadCloser
	progress     ProgressFunc
	sizeInterval int64
}

// NewProgressReader constructs a progress reader for use.
func NewProgressReader(progress ProgressFunc, sizeInterval int64) *ProgressReader {
	return &ProgressReader{
		progress:     progress,
		sizeInterval: sizeInterval,
	}
}

// TrackProgress is called once at the beginning to setup the download.
func (pr *ProgressReader) TrackProgress(src string, currentSize, totalSize int64, stream io.ReadCloser) io.ReadCloser {
	pr.src = src
	pr.currentSize = currentSize
	pr.startSize = currentSize
	pr.lastReported = currentSize
	pr.totalSize = totalSize
	pr.startTime = time.Now()
	pr.reader = stream

	return pr
}

// Read performs a partial read of the download which gives us the
// ability to get stats.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.currentSize += int64(n)

	if pr.progress != nil && pr.currentSize-pr.lastReported >= pr.sizeInterval {
		pr.lastReported = pr.currentSize
		pr.progress(pr.src, pr.currentSize, pr.totalSize, pr.mibPerSec(), false)
	}

	return n, err
}

// Close closes the reader once the download is complete.
func (pr *ProgressReader) Close() error {
	if pr.progress != nil {
		pr.progress(pr.src, pr.currentSize, pr.totalSize, pr.mibPerSec(), true)
	}

	return pr.reader.Close()
}

func (pr *ProgressReader) mibPerSec() float64 {
	elapsed := time.Since(pr.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}

	return float64(pr.currentSize-pr.startSize) / SizeIntervalMIB / elapsed
}
