package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	// Snapshot endpoints usually return JPEG, but some return PNG
	_ "image/jpeg"
	_ "image/png"

	"github.com/cyclopcam/www"
)

// Largest snapshot we're willing to read
const DefaultMaxSnapshotBytes = 32 * 1024 * 1024

// NetworkCamera fetches a JPEG snapshot over HTTP for every frame
type NetworkCamera struct {
	URL      string
	Timeout  time.Duration
	MaxBytes int64 // Larger snapshots are rejected with ErrDecode
}

func NewNetworkCamera(url string) *NetworkCamera {
	return &NetworkCamera{
		URL:      url,
		Timeout:  10 * time.Second,
		MaxBytes: DefaultMaxSnapshotBytes,
	}
}

func (c *NetworkCamera) NextFrame(ctx context.Context) (*Frame, error) {
	if c.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := www.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: Failed to fetch %v: %w", ErrTransient, c.URL, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: Failed to read %v: %w", ErrTransient, c.URL, err)
	}
	if int64(len(raw)) > c.MaxBytes {
		return nil, fmt.Errorf("%w: Snapshot from %v exceeds %v bytes", ErrDecode, c.URL, c.MaxBytes)
	}
	now := time.Now()

	if ct := http.DetectContentType(raw); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: %v returned %v instead of an image", ErrDecode, c.URL, ct)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &Frame{
		Image: img,
		Time:  now,
	}, nil
}

func (c *NetworkCamera) Close() error {
	return nil
}

func (c *NetworkCamera) Describe() string {
	return c.URL
}

func (c *NetworkCamera) GeoHint() string {
	return GeoHintFromURL(c.URL)
}
