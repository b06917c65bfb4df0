package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Classes of failure that a Source can return.
// Sources wrap one of these with %w, so that the monitor can decide what to do with errors.Is.
var (
	ErrTransient = errors.New("transient camera error") // Sleep and try again
	ErrDecode    = errors.New("frame decode error")     // Skip this frame
	ErrFatal     = errors.New("fatal camera error")     // Give up
)

// GeoHint for a camera that is attached to this machine, which makes geolocation
// look up our own public IP address.
const GeoHintSelf = "me"

// Frame is a single decoded image from a camera
type Frame struct {
	Image image.Image
	Time  time.Time // When the frame was acquired
}

// Source produces frames from a camera.
// A Source is used by a single goroutine, and is not safe for concurrent use.
type Source interface {
	// Block until the next frame is available.
	// Returns io.EOF when the source has no more frames.
	NextFrame(ctx context.Context) (*Frame, error)
	Close() error
	// Human readable description, for logs
	Describe() string
	// Host name or IP address that gives the approximate location of the camera
	GeoHint() string
}

type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindTransient
	ErrorKindDecode
	ErrorKindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindDecode:
		return "decode"
	case ErrorKindFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Classify decides how the frame loop should react to an error from NextFrame.
// Errors that carry no classification are treated as transient.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrFatal):
		return ErrorKindFatal
	case errors.Is(err, ErrDecode):
		return ErrorKindDecode
	case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return ErrorKindFatal
	}
	return ErrorKindTransient
}

// Parse a camera string such as:
//
//	http://192.168.1.10/snapshot.jpg
//	webcam
//	webcam:1
//	0
func Parse(name string) (Source, error) {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if _, err := url.Parse(name); err != nil {
			return nil, fmt.Errorf("Invalid camera URL '%v': %w", name, err)
		}
		return NewNetworkCamera(name), nil
	case lower == "webcam":
		return NewLocalCamera(0), nil
	case strings.HasPrefix(lower, "webcam:"):
		name = name[len("webcam:"):]
	}
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("Unrecognized camera '%v'. Use an http(s) snapshot URL, 'webcam', or 'webcam:N'", name)
	}
	return NewLocalCamera(idx), nil
}

// GeoHintFromURL extracts the host name of a camera URL, without port or credentials.
func GeoHintFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	// Not a well formed URL, so take whatever sits between '//' and the next '/'
	s := rawURL
	if i := strings.LastIndex(s, "//"); i != -1 {
		s = s[i+2:]
	}
	if i := strings.IndexByte(s, '/'); i != -1 {
		s = s[:i]
	}
	return s
}
