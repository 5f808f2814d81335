package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ProgressFunc receives raw transfer progress. Speed is a rolling estimate in
// bytes per second; total is -1 when the server did not report a length.
type ProgressFunc func(bytesDownloaded, bytesTotal, speedBPS int64)

const copyChunkSize = 128 * 1024

// Downloader streams HTTP bodies to disk with cooperative cancellation.
type Downloader struct {
	Client *http.Client
}

// Fetch streams url into dest, invoking progress after every chunk. The
// destination is truncated first: transfers restart from zero, there is no
// range resume. Cancellation via ctx is observed mid-stream; on abort the
// partial file is left in place and the context error is returned.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, progress ProgressFunc) (int64, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build transfer request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("start transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("transfer returned status %d", resp.StatusCode)
	}

	total := resp.ContentLength

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer out.Close()

	var written int64
	buf := make([]byte, copyChunkSize)
	speed := newSpeedEstimator(time.Now())

	for {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("write destination: %w", writeErr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total, speed.estimate(time.Now(), written))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close destination: %w", err)
	}
	return written, nil
}

// speedEstimator computes a rolling bytes-per-second figure over a short
// window so the UI sees current rather than lifetime-average throughput.
type speedEstimator struct {
	windowStart time.Time
	windowBytes int64
	lastRate    int64
}

func newSpeedEstimator(now time.Time) *speedEstimator {
	return &speedEstimator{windowStart: now}
}

func (s *speedEstimator) estimate(now time.Time, totalWritten int64) int64 {
	elapsed := now.Sub(s.windowStart)
	if elapsed >= time.Second {
		s.lastRate = int64(float64(totalWritten-s.windowBytes) / elapsed.Seconds())
		s.windowStart = now
		s.windowBytes = totalWritten
	}
	return s.lastRate
}
