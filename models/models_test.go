package models

import "testing"

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"Critical", SeverityCritical},
		{"critical", SeverityCritical},
		{"HIGH", SeverityHigh},
		{" medium ", SeverityMedium},
		{"low", SeverityLow},
		{"info", SeverityInfo},
		{"informational", SeverityInfo},
		{"", SeverityInfo},
		{"banana", SeverityInfo},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%q) = %d not above Rank(%q) = %d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if Severity("bogus").Rank() != -1 {
		t.Errorf("unknown severity rank = %d, want -1", Severity("bogus").Rank())
	}
}

func TestViolationNormalize(t *testing.T) {
	tests := []struct {
		name         string
		in           Violation
		wantStart    float64
		wantEnd      float64
		wantDuration float64
	}{
		{
			name:         "duration recomputed from bounds",
			in:           Violation{StartTimeSeconds: 10, EndTimeSeconds: 12.5, DurationSeconds: 99},
			wantStart:    10,
			wantEnd:      12.5,
			wantDuration: 2.5,
		},
		{
			name:         "negative start clamped",
			in:           Violation{StartTimeSeconds: -3, EndTimeSeconds: 2},
			wantStart:    0,
			wantEnd:      2,
			wantDuration: 2,
		},
		{
			name:         "end before start collapses to instant",
			in:           Violation{StartTimeSeconds: 8, EndTimeSeconds: 5},
			wantStart:    8,
			wantEnd:      8,
			wantDuration: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.in
			v.Normalize()
			if v.StartTimeSeconds != tt.wantStart {
				t.Errorf("start = %v, want %v", v.StartTimeSeconds, tt.wantStart)
			}
			if v.EndTimeSeconds != tt.wantEnd {
				t.Errorf("end = %v, want %v", v.EndTimeSeconds, tt.wantEnd)
			}
			if v.DurationSeconds != tt.wantDuration {
				t.Errorf("duration = %v, want %v", v.DurationSeconds, tt.wantDuration)
			}
			if v.ThumbnailStatus != ThumbnailPending {
				t.Errorf("thumbnail status = %q, want pending", v.ThumbnailStatus)
			}
		})
	}
}

func TestAnalysisResultNormalize(t *testing.T) {
	score := 120
	r := AnalysisResult{SafetyScore: &score}
	r.Normalize()
	if r.Violations == nil || r.PositiveObservations == nil {
		t.Error("Normalize() must replace nil slices with empty ones")
	}
	if *r.SafetyScore != 100 {
		t.Errorf("safetyScore = %d, want clamped 100", *r.SafetyScore)
	}

	neg := -1
	r = AnalysisResult{SafetyScore: &neg}
	r.Normalize()
	if *r.SafetyScore != 0 {
		t.Errorf("safetyScore = %d, want clamped 0", *r.SafetyScore)
	}
}

func TestPendingThumbnails(t *testing.T) {
	r := AnalysisResult{
		Violations: []Violation{
			{Description: "a", ThumbnailStatus: ThumbnailCaptured, Thumbnail: []byte{0xff}},
			{Description: "b", ThumbnailStatus: ThumbnailPending},
			{Description: "c", ThumbnailStatus: ThumbnailFailed},
			{Description: "d"},
		},
	}
	got := r.PendingThumbnails()
	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("PendingThumbnails() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PendingThumbnails() = %v, want %v", got, want)
		}
	}
}

func TestThumbnailStatusResolved(t *testing.T) {
	if ThumbnailPending.Resolved() {
		t.Error("pending must not be resolved")
	}
	if !ThumbnailCaptured.Resolved() {
		t.Error("captured must be resolved")
	}
	if !ThumbnailFailed.Resolved() {
		t.Error("failed must be resolved")
	}
}

func TestStatusValidity(t *testing.T) {
	for _, s := range []ReportStatus{StatusPendingReview, StatusReviewed, StatusActionRequired, StatusClosed} {
		if !s.IsValid() {
			t.Errorf("ReportStatus %q should be valid", s)
		}
	}
	if ReportStatus("archived").IsValid() {
		t.Error("unknown report status should be invalid")
	}

	for _, s := range []ProcessingStatus{VideoPending, VideoProcessing, VideoCompleted, VideoError} {
		if !s.IsValid() {
			t.Errorf("ProcessingStatus %q should be valid", s)
		}
	}
	if ProcessingStatus("done").IsValid() {
		t.Error("unknown processing status should be invalid")
	}
}
