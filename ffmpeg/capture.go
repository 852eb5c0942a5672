package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

const (
	// DefaultMetadataTimeout is how long a capture waits for the video's
	// metadata before giving up softly.
	DefaultMetadataTimeout = 5 * time.Second
	// DefaultRenderTimeout is how long a seek plus decode may take before
	// the capture fails hard.
	DefaultRenderTimeout = 7 * time.Second
)

// CaptureState names the phases of a still-frame capture.
type CaptureState int

const (
	StateAwaitingMetadata CaptureState = iota
	StateSeeking
	StateRendering
	StateDone
	StateFailed
)

func (s CaptureState) String() string {
	switch s {
	case StateAwaitingMetadata:
		return "awaiting_metadata"
	case StateSeeking:
		return "seeking"
	case StateRendering:
		return "rendering"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrCaptureBusy is returned when a second capture is attempted on a handle
// that already has one in flight. Captures on one handle must be sequential;
// hitting this is a caller bug, not a condition to retry.
var ErrCaptureBusy = errors.New("capture already in flight for this video")

// ErrCaptureTimeout is returned when seek or decode does not finish within
// the render timeout.
var ErrCaptureTimeout = errors.New("frame capture timed out")

// CaptureError is a hard decoder or renderer failure. Soft conditions where
// the frame is simply unavailable are reported as (nil, nil) instead.
type CaptureError struct {
	State CaptureState
	Path  string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed while %s for %s: %v", e.State, filepath.Base(e.Path), e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// VideoHandle is a capture target. Create one handle per video file; probed
// metadata is cached after the first success and captures are serialized
// through the handle.
type VideoHandle struct {
	path string

	mu   sync.Mutex
	meta *MediaInfo
}

// NewVideoHandle wraps a local video path for capture.
func NewVideoHandle(path string) *VideoHandle {
	return &VideoHandle{path: path}
}

// Path returns the wrapped file path.
func (h *VideoHandle) Path() string { return h.path }

// FrameCapturer renders single frames out of a video as JPEG thumbnails.
type FrameCapturer struct {
	bin             string
	prober          *Prober
	metadataTimeout time.Duration
	renderTimeout   time.Duration
	maxWidth        int
	quality         int
}

// NewFrameCapturer returns a capturer using the given ffmpeg binary and
// prober, with the default timeouts and thumbnail bounds.
func NewFrameCapturer(bin string, prober *Prober) *FrameCapturer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FrameCapturer{
		bin:             bin,
		prober:          prober,
		metadataTimeout: DefaultMetadataTimeout,
		renderTimeout:   DefaultRenderTimeout,
		maxWidth:        defaultThumbnailWidth,
		quality:         defaultThumbnailQuality,
	}
}

// SetTimeouts overrides the metadata and render windows. Non-positive values
// keep the current ones.
func (c *FrameCapturer) SetTimeouts(metadata, render time.Duration) {
	if metadata > 0 {
		c.metadataTimeout = metadata
	}
	if render > 0 {
		c.renderTimeout = render
	}
}

// Metadata returns the handle's probed shape, probing on first use. Unlike
// Capture it blocks until any in-flight capture on the handle finishes.
func (c *FrameCapturer) Metadata(ctx context.Context, h *VideoHandle) (*MediaInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.meta != nil {
		return h.meta, nil
	}
	info, err := c.prober.Probe(ctx, h.path)
	if err != nil {
		return nil, err
	}
	h.meta = info
	return info, nil
}

// captureJob tracks one capture through its states.
type captureJob struct {
	handle *VideoHandle
	state  CaptureState
}

func (j *captureJob) transition(next CaptureState) {
	log.Debugf("capture %s: %s -> %s", filepath.Base(j.handle.path), j.state, next)
	j.state = next
}

// fail records the terminal state and wraps err with the state the job was
// in when it broke.
func (j *captureJob) fail(err error) error {
	at := j.state
	j.transition(StateFailed)
	return &CaptureError{State: at, Path: j.handle.path, Err: err}
}

// Capture renders a single frame at the given position and returns it as a
// bounded JPEG thumbnail.
//
// A (nil, nil) return is a soft miss: metadata did not arrive within the
// metadata timeout, or the decoded frame had no pixels. Callers mark the
// violation's thumbnail failed and move on. A non-nil error is a hard
// failure: a source whose metadata reports no usable duration and decoder
// errors surface as *CaptureError, a stuck seek as ErrCaptureTimeout.
func (c *FrameCapturer) Capture(ctx context.Context, h *VideoHandle, seconds float64) ([]byte, error) {
	if !h.mu.TryLock() {
		return nil, ErrCaptureBusy
	}
	defer h.mu.Unlock()

	job := &captureJob{handle: h, state: StateAwaitingMetadata}

	meta, ready, err := c.awaitMetadata(ctx, h)
	if err != nil {
		return nil, job.fail(err)
	}
	if !ready {
		// Metadata never arrived. Frame unavailable, not an error.
		log.Debugf("capture %s: metadata not ready within %v, giving up softly",
			filepath.Base(h.path), c.metadataTimeout)
		return nil, nil
	}
	if meta.DurationSeconds <= 0 {
		// The source is attached and probed, so a missing duration is a
		// broken container, not a pending one.
		return nil, job.fail(fmt.Errorf("source reports no usable duration"))
	}

	job.transition(StateSeeking)
	target := clampSeek(seconds, meta.DurationSeconds)

	tmp, err := os.CreateTemp("", "frame-*.jpg")
	if err != nil {
		return nil, job.fail(fmt.Errorf("failed to create frame scratch file: %w", err))
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	renderCtx, cancel := context.WithTimeout(ctx, c.renderTimeout)
	defer cancel()

	cmd := exec.CommandContext(renderCtx, c.bin,
		"-y",
		"-ss", strconv.FormatFloat(target, 'f', 3, 64),
		"-i", h.path,
		"-frames:v", "1",
		"-q:v", "2",
		tmpPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(renderCtx.Err(), context.DeadlineExceeded) {
			job.transition(StateFailed)
			return nil, fmt.Errorf("seek to %.3fs in %s: %w", target, filepath.Base(h.path), ErrCaptureTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, job.fail(fmt.Errorf("decoder error: %s", msg))
	}

	job.transition(StateRendering)

	raw, err := os.ReadFile(tmpPath)
	if err != nil || len(raw) == 0 {
		// The decoder exited clean but produced nothing, which happens
		// when the seek lands past the last keyframe.
		return nil, nil
	}

	thumb, err := encodeThumbnail(raw, c.maxWidth, c.quality)
	if errors.Is(err, errEmptyFrame) {
		return nil, nil
	}
	if err != nil {
		return nil, job.fail(err)
	}

	job.transition(StateDone)
	return thumb, nil
}

// awaitMetadata probes the handle's metadata, bounded by the metadata
// timeout. ready=false with a nil error means the window elapsed. The
// handle lock must be held.
func (c *FrameCapturer) awaitMetadata(ctx context.Context, h *VideoHandle) (meta *MediaInfo, ready bool, err error) {
	if h.meta != nil {
		return h.meta, true, nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	info, err := c.prober.Probe(probeCtx, h.path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, err
	}
	h.meta = info
	return info, true, nil
}

// clampSeek keeps the target inside the decodable range. Seeking at or past
// the end of file can yield no frame, so back off slightly from the tail.
func clampSeek(seconds, duration float64) float64 {
	if seconds < 0 {
		return 0
	}
	tail := duration - 0.1
	if tail < 0 {
		tail = 0
	}
	if seconds > tail {
		return tail
	}
	return seconds
}
