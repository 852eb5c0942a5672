package service

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/wakecap/siteguard-video-analyzer/ffmpeg"
	"github.com/wakecap/siteguard-video-analyzer/metrics"
	"github.com/wakecap/siteguard-video-analyzer/models"
)

// EvidenceBinder walks the pending violations of an analysis and captures a
// still frame at each violation's start time. Captures against one handle
// run strictly sequentially; independent reports may bind in parallel on
// their own handles.
type EvidenceBinder struct {
	capturer *ffmpeg.FrameCapturer
	reports  ReportStore
	videos   VideoStore
}

func NewEvidenceBinder(capturer *ffmpeg.FrameCapturer, reports ReportStore, videos VideoStore) *EvidenceBinder {
	return &EvidenceBinder{
		capturer: capturer,
		reports:  reports,
		videos:   videos,
	}
}

// BindLive captures evidence for the session's live analysis. Outcomes are
// written back through the session under its generation token, so a session
// that has moved on is never touched; the binder stops at the first stale
// write. Returns the number of captured and failed thumbnails.
func (b *EvidenceBinder) BindLive(ctx context.Context, session *Session, gen uint64, handle *ffmpeg.VideoHandle) (int, int) {
	pending, ok := session.pendingLiveCaptures(gen)
	if !ok || len(pending) == 0 {
		return 0, 0
	}

	if _, err := b.capturer.Metadata(ctx, handle); err != nil {
		log.Warnf("video not ready for capture, failing %d pending thumbnails: %v", len(pending), err)
		failed := 0
		for _, p := range pending {
			metrics.CapturesTotal.WithLabelValues("hard_error").Inc()
			if !session.setLiveThumbnail(gen, p.position, models.ThumbnailFailed, nil) {
				return 0, failed
			}
			failed++
		}
		return 0, failed
	}

	captured, failed := 0, 0
	for _, p := range pending {
		status, thumb := b.captureOne(ctx, handle, p.seconds)
		if !session.setLiveThumbnail(gen, p.position, status, thumb) {
			// Session moved on; later captures would be wasted work.
			return captured, failed
		}
		if status == models.ThumbnailCaptured {
			captured++
		} else {
			failed++
		}
	}
	log.Infof("live evidence capture done: %d captured, %d failed", captured, failed)
	return captured, failed
}

// BindReport captures evidence for a saved report, writing each outcome to
// the store as it lands so partial progress survives interruption. A video
// that cannot be opened or probed fails every pending violation at once.
func (b *EvidenceBinder) BindReport(ctx context.Context, reportID string) (int, int, error) {
	report, err := b.reports.GetReport(ctx, reportID)
	if err != nil {
		return 0, 0, err
	}
	pending := report.PendingThumbnails()
	if len(pending) == 0 {
		return 0, 0, nil
	}

	handle, err := b.reportHandle(ctx, report)
	if err != nil {
		log.Warnf("report %s: video not capturable, failing %d pending thumbnails: %v", reportID, len(pending), err)
		failed := 0
		for _, position := range pending {
			metrics.CapturesTotal.WithLabelValues("hard_error").Inc()
			if uerr := b.reports.UpdateViolationThumbnail(ctx, reportID, position, models.ThumbnailFailed, nil); uerr != nil {
				return 0, failed, uerr
			}
			failed++
		}
		return 0, failed, nil
	}

	captured, failed := 0, 0
	for _, position := range pending {
		status, thumb := b.captureOne(ctx, handle, report.Violations[position].StartTimeSeconds)
		if uerr := b.reports.UpdateViolationThumbnail(ctx, reportID, position, status, thumb); uerr != nil {
			return captured, failed, uerr
		}
		if status == models.ThumbnailCaptured {
			captured++
		} else {
			failed++
		}
	}
	log.Infof("report %s evidence capture done: %d captured, %d failed", reportID, captured, failed)
	return captured, failed, nil
}

// captureOne runs a single capture and classifies the outcome. Soft misses
// and hard errors both resolve to a failed thumbnail so the attempt is
// recorded; hard errors are additionally logged since they point at a
// broken source.
func (b *EvidenceBinder) captureOne(ctx context.Context, handle *ffmpeg.VideoHandle, seconds float64) (models.ThumbnailStatus, []byte) {
	thumb, err := b.capturer.Capture(ctx, handle, seconds)
	if err != nil {
		log.Warnf("capture at %.2fs failed: %v", seconds, err)
		metrics.CapturesTotal.WithLabelValues("hard_error").Inc()
		return models.ThumbnailFailed, nil
	}
	if thumb == nil {
		metrics.CapturesTotal.WithLabelValues("soft_miss").Inc()
		return models.ThumbnailFailed, nil
	}
	metrics.CapturesTotal.WithLabelValues("captured").Inc()
	return models.ThumbnailCaptured, thumb
}

func (b *EvidenceBinder) reportHandle(ctx context.Context, report *models.Report) (*ffmpeg.VideoHandle, error) {
	video, err := b.videos.GetVideo(ctx, report.VideoID)
	if err != nil {
		return nil, err
	}
	if video.StoredPath == "" {
		return nil, fmt.Errorf("video %s has no stored file", video.ID)
	}
	handle := ffmpeg.NewVideoHandle(video.StoredPath)
	if _, err := b.capturer.Metadata(ctx, handle); err != nil {
		return nil, err
	}
	return handle, nil
}
