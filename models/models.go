package models

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Severity classifies how urgent a detected violation is.
// Values are ordered: Critical is the most urgent, Info the least.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a recognized value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank returns the urgency rank of the severity, higher is more urgent.
// Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// ParseSeverity maps a free-form severity string from the model output to a
// Severity. Matching is case-insensitive. Unknown values map to Info so a
// sloppy model answer never drops a violation.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info":
		return SeverityInfo
	}
	return SeverityInfo
}

// ThumbnailStatus tracks evidence capture for a single violation.
// The three states are distinct on purpose: "pending" means capture was never
// attempted, "failed" means it was attempted and produced nothing.
type ThumbnailStatus string

const (
	ThumbnailPending  ThumbnailStatus = "pending"
	ThumbnailCaptured ThumbnailStatus = "captured"
	ThumbnailFailed   ThumbnailStatus = "failed"
)

// IsValid returns true if the status is a recognized value.
func (s ThumbnailStatus) IsValid() bool {
	switch s {
	case ThumbnailPending, ThumbnailCaptured, ThumbnailFailed:
		return true
	}
	return false
}

// Resolved reports whether capture has already been attempted, successfully
// or not. Resolved violations are never re-captured within a session.
func (s ThumbnailStatus) Resolved() bool {
	return s == ThumbnailCaptured || s == ThumbnailFailed
}

// Violation is a single detected safety event with a time range, a severity
// and (eventually) a captured still frame as evidence. The JSON tags are the
// wire shape the model is instructed to produce.
type Violation struct {
	Description      string          `json:"description"`
	StartTimeSeconds float64         `json:"startTimeSeconds"`
	EndTimeSeconds   float64         `json:"endTimeSeconds"`
	DurationSeconds  float64         `json:"durationSeconds"`
	Severity         Severity        `json:"severity"`
	OnScreenStart    string          `json:"onScreenStartTime,omitempty"`
	OnScreenEnd      string          `json:"onScreenEndTime,omitempty"`
	ThumbnailStatus  ThumbnailStatus `json:"thumbnailStatus"`
	Thumbnail        []byte          `json:"thumbnail,omitempty"`
}

// Normalize repairs the time fields after decoding untrusted model output:
// negative times are clamped to zero, end is clamped up to start, and the
// duration is recomputed as end minus start. The severity is normalized
// through ParseSeverity and an unset thumbnail status becomes pending.
func (v *Violation) Normalize() {
	if v.StartTimeSeconds < 0 {
		v.StartTimeSeconds = 0
	}
	if v.EndTimeSeconds < v.StartTimeSeconds {
		v.EndTimeSeconds = v.StartTimeSeconds
	}
	v.DurationSeconds = v.EndTimeSeconds - v.StartTimeSeconds
	v.Severity = ParseSeverity(string(v.Severity))
	if !v.ThumbnailStatus.IsValid() {
		v.ThumbnailStatus = ThumbnailPending
	}
	v.OnScreenStart = strings.TrimSpace(v.OnScreenStart)
	v.OnScreenEnd = strings.TrimSpace(v.OnScreenEnd)
}

// AnalysisResult is the typed form of one model response. Violations keep
// detection order, not time order. RawResponse retains the original model
// text for audit even when parsing failed; Error carries the parse or
// model-reported failure, empty when the analysis is clean.
type AnalysisResult struct {
	Summary              string      `json:"summary,omitempty"`
	SafetyScore          *int        `json:"safetyScore,omitempty"`
	Violations           []Violation `json:"violations"`
	PositiveObservations []string    `json:"positiveObservations"`
	Error                string      `json:"error,omitempty"`
	RawResponse          string      `json:"rawResponse,omitempty"`
}

// Normalize fixes up every violation and clamps the safety score into 0-100.
func (r *AnalysisResult) Normalize() {
	for i := range r.Violations {
		r.Violations[i].Normalize()
	}
	if r.SafetyScore != nil {
		if *r.SafetyScore < 0 {
			*r.SafetyScore = 0
		}
		if *r.SafetyScore > 100 {
			*r.SafetyScore = 100
		}
	}
	if r.Violations == nil {
		r.Violations = []Violation{}
	}
	if r.PositiveObservations == nil {
		r.PositiveObservations = []string{}
	}
}

// PendingThumbnails returns the indexes of violations whose evidence capture
// has not been attempted yet, in detection order.
func (r *AnalysisResult) PendingThumbnails() []int {
	var idx []int
	for i := range r.Violations {
		if !r.Violations[i].ThumbnailStatus.Resolved() {
			idx = append(idx, i)
		}
	}
	return idx
}

// ReportStatus is the operator review state of a saved report. Transitions
// are not enforced: an operator may set any status at any time.
type ReportStatus string

const (
	StatusPendingReview  ReportStatus = "pending_review"
	StatusReviewed       ReportStatus = "reviewed"
	StatusActionRequired ReportStatus = "action_required"
	StatusClosed         ReportStatus = "closed"
)

// IsValid returns true if the status is a recognized value.
func (s ReportStatus) IsValid() bool {
	switch s {
	case StatusPendingReview, StatusReviewed, StatusActionRequired, StatusClosed:
		return true
	}
	return false
}

// Report is a persisted analysis result plus its provenance. A report is
// created exactly once on save and owned by the store afterwards; in-memory
// references are borrowed handles for update calls.
type Report struct {
	AnalysisResult

	ID              string       `json:"id"`
	VideoID         string       `json:"video_id"`
	VideoFileName   string       `json:"video_file_name"`
	SourceURI       string       `json:"source_uri,omitempty"`
	VideoDuration   float64      `json:"video_duration_seconds"`
	HazardContext   string       `json:"hazard_context,omitempty"`
	Instructions    string       `json:"instructions,omitempty"`
	OperatorComment string       `json:"operator_comment,omitempty"`
	Status          ReportStatus `json:"status"`
	AnalyzedAt      time.Time    `json:"analyzed_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ReportPatch is a partial report update. Nil fields are left untouched.
type ReportPatch struct {
	OperatorComment *string       `json:"operator_comment,omitempty"`
	Status          *ReportStatus `json:"status,omitempty"`
	Violations      []Violation   `json:"violations,omitempty"`
}

// ProcessingStatus is the ingest state of an uploaded video.
type ProcessingStatus string

const (
	VideoPending    ProcessingStatus = "pending"
	VideoProcessing ProcessingStatus = "processing"
	VideoCompleted  ProcessingStatus = "completed"
	VideoError      ProcessingStatus = "error"
)

// IsValid returns true if the status is a recognized value.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case VideoPending, VideoProcessing, VideoCompleted, VideoError:
		return true
	}
	return false
}

// Video is an uploaded video file tracked by the ingest pipeline.
type Video struct {
	ID              string           `json:"id"`
	FileName        string           `json:"file_name"`
	StoredPath      string           `json:"-"`
	SourceURI       string           `json:"source_uri,omitempty"`
	SizeBytes       int64            `json:"size_bytes"`
	DurationSeconds float64          `json:"duration_seconds"`
	Status          ProcessingStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Project is a construction site under observation.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// Camera is a fixed camera position on a project site. Uploaded videos may
// reference the camera they came from.
type Camera struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// CameraWithDistance is a camera annotated with its distance from a query
// point, for nearby-camera lookups.
type CameraWithDistance struct {
	Camera
	DistanceMeters float64 `json:"distance_meters"`
}
