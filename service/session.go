package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wakecap/siteguard-video-analyzer/metrics"
	"github.com/wakecap/siteguard-video-analyzer/models"
)

var (
	// ErrNothingToSave rejects saving an analysis that failed outright:
	// an error with zero extracted violations carries no audit value.
	ErrNothingToSave = errors.New("analysis has no saveable content")

	// ErrAlreadySaved rejects a second save of the same live analysis.
	ErrAlreadySaved = errors.New("analysis already saved")

	// ErrReportMismatch signals that an update targeted a report other
	// than the active one. The caller's view has diverged; surfaced
	// instead of silently reconciled.
	ErrReportMismatch = errors.New("report is not the active report")
)

// ViewKind tags what the session is currently showing.
type ViewKind int

const (
	ViewNone ViewKind = iota
	ViewLive
	ViewHistorical
)

func (k ViewKind) String() string {
	switch k {
	case ViewNone:
		return "none"
	case ViewLive:
		return "live"
	case ViewHistorical:
		return "historical"
	}
	return "unknown"
}

// liveAnalysis holds an in-flight or completed analysis together with the
// provenance needed to build a report from it on save.
type liveAnalysis struct {
	videoID       string
	videoFileName string
	sourceURI     string
	videoDuration float64
	hazardContext string
	instructions  string

	result        *models.AnalysisResult
	savedReportID string
}

// Session is the single-operator view state: either nothing, a live
// analysis, or a historical report. Live and historical are mutually
// exclusive; switching bumps the generation so responses and captures
// belonging to the previous view can never mutate the new one.
type Session struct {
	mu           sync.Mutex
	generation   uint64
	kind         ViewKind
	live         *liveAnalysis
	historicalID string
	activeID     string
}

func NewSession() *Session {
	return &Session{}
}

// BeginAnalysis switches the session into live mode for the given video and
// returns the generation token that gates every later mutation of this
// analysis.
func (s *Session) BeginAnalysis(video *models.Video, hazardContext, instructions string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.kind = ViewLive
	s.live = &liveAnalysis{
		videoID:       video.ID,
		videoFileName: video.FileName,
		sourceURI:     video.SourceURI,
		videoDuration: video.DurationSeconds,
		hazardContext: hazardContext,
		instructions:  instructions,
	}
	s.historicalID = ""
	s.activeID = ""
	metrics.SessionActive.Set(1)
	return s.generation
}

// CompleteAnalysis attaches the parsed result to the live view. Returns
// false when the session has moved on since BeginAnalysis; a stale result
// is dropped without touching state.
func (s *Session) CompleteAnalysis(gen uint64, result *models.AnalysisResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.kind != ViewLive || s.live == nil {
		return false
	}
	s.live.result = copyResult(result)
	return true
}

// AbortAnalysis clears a live analysis that failed before producing a
// result. Stale aborts are ignored.
func (s *Session) AbortAnalysis(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.kind != ViewLive {
		return false
	}
	s.kind = ViewNone
	s.live = nil
	s.activeID = ""
	metrics.SessionActive.Set(0)
	return true
}

// pendingCapture is one violation still awaiting evidence capture.
type pendingCapture struct {
	position int
	seconds  float64
}

// pendingLiveCaptures lists the live violations whose thumbnails have not
// been attempted. Returns false when the generation is stale or no live
// result exists.
func (s *Session) pendingLiveCaptures(gen uint64) ([]pendingCapture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.kind != ViewLive || s.live == nil || s.live.result == nil {
		return nil, false
	}
	pending := []pendingCapture{}
	for i, v := range s.live.result.Violations {
		if v.ThumbnailStatus == models.ThumbnailPending {
			pending = append(pending, pendingCapture{position: i, seconds: v.StartTimeSeconds})
		}
	}
	return pending, true
}

// setLiveThumbnail records a capture outcome on the live result. Thumbnail
// state is monotonic: only pending violations accept a write. Returns false
// when the write was not applied, including stale generations.
func (s *Session) setLiveThumbnail(gen uint64, position int, status models.ThumbnailStatus, thumb []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.kind != ViewLive || s.live == nil || s.live.result == nil {
		return false
	}
	if position < 0 || position >= len(s.live.result.Violations) {
		return false
	}
	v := &s.live.result.Violations[position]
	if v.ThumbnailStatus != models.ThumbnailPending {
		return false
	}
	v.ThumbnailStatus = status
	v.Thumbnail = thumb
	return true
}

// liveSnapshot is everything needed to build a report from the live view.
type liveSnapshot struct {
	VideoID       string
	VideoFileName string
	SourceURI     string
	VideoDuration float64
	HazardContext string
	Instructions  string
	Result        models.AnalysisResult
}

// SaveableSnapshot validates the save rule and returns a copy of the live
// analysis. Saving needs either a clean result or, when the model reported
// an error, at least one extracted violation worth keeping.
func (s *Session) SaveableSnapshot() (*liveSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != ViewLive || s.live == nil || s.live.result == nil {
		return nil, fmt.Errorf("no completed analysis: %w", ErrNothingToSave)
	}
	if s.live.savedReportID != "" {
		return nil, fmt.Errorf("report %s: %w", s.live.savedReportID, ErrAlreadySaved)
	}
	if s.live.result.Error != "" && len(s.live.result.Violations) == 0 {
		return nil, fmt.Errorf("analysis failed with no violations: %w", ErrNothingToSave)
	}

	return &liveSnapshot{
		VideoID:       s.live.videoID,
		VideoFileName: s.live.videoFileName,
		SourceURI:     s.live.sourceURI,
		VideoDuration: s.live.videoDuration,
		HazardContext: s.live.hazardContext,
		Instructions:  s.live.instructions,
		Result:        *copyResult(s.live.result),
	}, nil
}

// MarkSaved records the id the live analysis was persisted under and makes
// it the active report.
func (s *Session) MarkSaved(reportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == ViewLive && s.live != nil {
		s.live.savedReportID = reportID
	}
	s.activeID = reportID
}

// LoadReport switches the session to a historical report. Any in-flight
// analysis or capture belonging to the previous view becomes stale.
func (s *Session) LoadReport(reportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.kind = ViewHistorical
	s.historicalID = reportID
	s.live = nil
	s.activeID = reportID
	metrics.SessionActive.Set(1)
}

// Reset returns the session to the empty view.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.kind = ViewNone
	s.live = nil
	s.historicalID = ""
	s.activeID = ""
	metrics.SessionActive.Set(0)
}

// EnsureActive verifies that an update targets the active report.
func (s *Session) EnsureActive(reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return fmt.Errorf("no active report: %w", ErrReportMismatch)
	}
	if reportID != s.activeID {
		return fmt.Errorf("active report is %s, not %s: %w", s.activeID, reportID, ErrReportMismatch)
	}
	return nil
}

// ActiveReportID returns the id updates currently target, or empty.
func (s *Session) ActiveReportID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Generation returns the current generation token.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SessionView is a read-only snapshot of the session for status endpoints.
type SessionView struct {
	Kind             string                 `json:"kind"`
	ActiveReportID   string                 `json:"active_report_id,omitempty"`
	HistoricalID     string                 `json:"historical_report_id,omitempty"`
	AnalysisInFlight bool                   `json:"analysis_in_flight"`
	Live             *models.AnalysisResult `json:"live,omitempty"`
}

// Snapshot copies the current view for rendering.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := SessionView{
		Kind:           s.kind.String(),
		ActiveReportID: s.activeID,
		HistoricalID:   s.historicalID,
	}
	if s.kind == ViewLive && s.live != nil {
		if s.live.result == nil {
			view.AnalysisInFlight = true
		} else {
			view.Live = copyResult(s.live.result)
		}
	}
	return view
}

func copyResult(r *models.AnalysisResult) *models.AnalysisResult {
	out := *r
	if r.SafetyScore != nil {
		score := *r.SafetyScore
		out.SafetyScore = &score
	}
	out.Violations = make([]models.Violation, len(r.Violations))
	copy(out.Violations, r.Violations)
	for i := range out.Violations {
		if r.Violations[i].Thumbnail != nil {
			out.Violations[i].Thumbnail = append([]byte(nil), r.Violations[i].Thumbnail...)
		}
	}
	out.PositiveObservations = append([]string(nil), r.PositiveObservations...)
	if out.Violations == nil {
		out.Violations = []models.Violation{}
	}
	if out.PositiveObservations == nil {
		out.PositiveObservations = []string{}
	}
	return &out
}
