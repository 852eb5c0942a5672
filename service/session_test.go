package service

import (
	"errors"
	"testing"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

func testVideo() *models.Video {
	return &models.Video{
		ID:              "v-1",
		FileName:        "site.mp4",
		DurationSeconds: 42,
		Status:          models.VideoCompleted,
	}
}

func resultWithViolations(n int) *models.AnalysisResult {
	score := 70
	result := &models.AnalysisResult{
		Summary:              "summary",
		SafetyScore:          &score,
		Violations:           []models.Violation{},
		PositiveObservations: []string{},
	}
	for i := 0; i < n; i++ {
		result.Violations = append(result.Violations, models.Violation{
			Description:      "violation",
			StartTimeSeconds: float64(i * 10),
			EndTimeSeconds:   float64(i*10 + 5),
			DurationSeconds:  5,
			Severity:         models.SeverityHigh,
			ThumbnailStatus:  models.ThumbnailPending,
		})
	}
	return result
}

func TestSessionStaleResultDropped(t *testing.T) {
	s := NewSession()

	gen := s.BeginAnalysis(testVideo(), "", "")
	s.LoadReport("r-9")

	if s.CompleteAnalysis(gen, resultWithViolations(1)) {
		t.Error("CompleteAnalysis: stale generation must not apply")
	}
	view := s.Snapshot()
	if view.Kind != "historical" || view.HistoricalID != "r-9" {
		t.Errorf("Snapshot: expected historical view of r-9, got %+v", view)
	}
}

func TestSessionLiveAndHistoricalExclusive(t *testing.T) {
	s := NewSession()

	gen := s.BeginAnalysis(testVideo(), "", "")
	if !s.CompleteAnalysis(gen, resultWithViolations(1)) {
		t.Fatal("CompleteAnalysis: expected fresh result to apply")
	}
	if view := s.Snapshot(); view.Kind != "live" || view.Live == nil {
		t.Fatalf("Snapshot: expected live view, got %+v", view)
	}

	s.LoadReport("r-1")
	view := s.Snapshot()
	if view.Kind != "historical" || view.Live != nil {
		t.Errorf("Snapshot: loading history must clear live state, got %+v", view)
	}
	if s.ActiveReportID() != "r-1" {
		t.Errorf("ActiveReportID: expected r-1, got %q", s.ActiveReportID())
	}

	s.BeginAnalysis(testVideo(), "", "")
	view = s.Snapshot()
	if view.Kind != "live" || view.HistoricalID != "" || view.ActiveReportID != "" {
		t.Errorf("Snapshot: new analysis must clear history selection, got %+v", view)
	}
	if !view.AnalysisInFlight {
		t.Error("Snapshot: expected analysis in flight before completion")
	}
}

func TestSessionAbortAnalysis(t *testing.T) {
	s := NewSession()

	gen := s.BeginAnalysis(testVideo(), "", "")
	if !s.AbortAnalysis(gen) {
		t.Error("AbortAnalysis: expected fresh abort to apply")
	}
	if view := s.Snapshot(); view.Kind != "none" {
		t.Errorf("Snapshot: expected empty view after abort, got %+v", view)
	}

	gen = s.BeginAnalysis(testVideo(), "", "")
	s.Reset()
	if s.AbortAnalysis(gen) {
		t.Error("AbortAnalysis: stale abort must be ignored")
	}
}

func TestSessionSaveRules(t *testing.T) {
	testCases := []struct {
		name       string
		result     *models.AnalysisResult
		wantErr    error
		wantFields bool
	}{
		{
			name:       "Clean result",
			result:     resultWithViolations(2),
			wantFields: true,
		},
		{
			name: "Error with one violation kept",
			result: func() *models.AnalysisResult {
				r := resultWithViolations(1)
				r.Error = "model could not finish"
				return r
			}(),
			wantFields: true,
		},
		{
			name: "Error with no violations",
			result: func() *models.AnalysisResult {
				r := resultWithViolations(0)
				r.Error = "could not process video"
				return r
			}(),
			wantErr: ErrNothingToSave,
		},
	}

	for _, testCase := range testCases {
		s := NewSession()
		gen := s.BeginAnalysis(testVideo(), "scaffolding work", "focus on PPE")
		s.CompleteAnalysis(gen, testCase.result)

		snap, err := s.SaveableSnapshot()
		if testCase.wantErr != nil {
			if !errors.Is(err, testCase.wantErr) {
				t.Errorf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", testCase.name, err)
			continue
		}
		if testCase.wantFields {
			if snap.VideoID != "v-1" || snap.HazardContext != "scaffolding work" || snap.Instructions != "focus on PPE" {
				t.Errorf("%s: snapshot lost provenance: %+v", testCase.name, snap)
			}
			if len(snap.Result.Violations) != len(testCase.result.Violations) {
				t.Errorf("%s: snapshot lost violations", testCase.name)
			}
		}
	}
}

func TestSessionSaveExactlyOnce(t *testing.T) {
	s := NewSession()
	gen := s.BeginAnalysis(testVideo(), "", "")
	s.CompleteAnalysis(gen, resultWithViolations(1))

	if _, err := s.SaveableSnapshot(); err != nil {
		t.Fatalf("SaveableSnapshot: %v", err)
	}
	s.MarkSaved("r-1")

	if _, err := s.SaveableSnapshot(); !errors.Is(err, ErrAlreadySaved) {
		t.Errorf("SaveableSnapshot: expected ErrAlreadySaved, got %v", err)
	}
	if s.ActiveReportID() != "r-1" {
		t.Errorf("ActiveReportID: expected r-1 after save, got %q", s.ActiveReportID())
	}
}

func TestSessionSaveRequiresCompletedAnalysis(t *testing.T) {
	s := NewSession()

	if _, err := s.SaveableSnapshot(); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("SaveableSnapshot on empty session: expected ErrNothingToSave, got %v", err)
	}

	s.BeginAnalysis(testVideo(), "", "")
	if _, err := s.SaveableSnapshot(); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("SaveableSnapshot mid-analysis: expected ErrNothingToSave, got %v", err)
	}
}

func TestSessionEnsureActive(t *testing.T) {
	s := NewSession()

	if err := s.EnsureActive("r-1"); !errors.Is(err, ErrReportMismatch) {
		t.Errorf("EnsureActive with no active report: expected ErrReportMismatch, got %v", err)
	}

	s.LoadReport("r-1")
	if err := s.EnsureActive("r-1"); err != nil {
		t.Errorf("EnsureActive: unexpected error: %v", err)
	}
	if err := s.EnsureActive("r-2"); !errors.Is(err, ErrReportMismatch) {
		t.Errorf("EnsureActive with diverged id: expected ErrReportMismatch, got %v", err)
	}
}

func TestSessionThumbnailMonotonic(t *testing.T) {
	s := NewSession()
	gen := s.BeginAnalysis(testVideo(), "", "")
	s.CompleteAnalysis(gen, resultWithViolations(2))

	if !s.setLiveThumbnail(gen, 0, models.ThumbnailCaptured, []byte{0xff}) {
		t.Fatal("setLiveThumbnail: expected first write to apply")
	}
	if s.setLiveThumbnail(gen, 0, models.ThumbnailFailed, nil) {
		t.Error("setLiveThumbnail: resolved thumbnail must not be rewritten")
	}
	if s.setLiveThumbnail(gen, 5, models.ThumbnailCaptured, nil) {
		t.Error("setLiveThumbnail: out-of-range position must be rejected")
	}

	pending, ok := s.pendingLiveCaptures(gen)
	if !ok || len(pending) != 1 || pending[0].position != 1 {
		t.Errorf("pendingLiveCaptures: expected only position 1 pending, got %v (%v)", pending, ok)
	}

	s.Reset()
	if s.setLiveThumbnail(gen, 1, models.ThumbnailCaptured, []byte{0xff}) {
		t.Error("setLiveThumbnail: stale generation must not apply")
	}
}

func TestSessionSnapshotIsACopy(t *testing.T) {
	s := NewSession()
	gen := s.BeginAnalysis(testVideo(), "", "")
	s.CompleteAnalysis(gen, resultWithViolations(1))

	view := s.Snapshot()
	view.Live.Violations[0].Description = "mutated"

	fresh := s.Snapshot()
	if fresh.Live.Violations[0].Description != "violation" {
		t.Error("Snapshot: callers must not be able to mutate session state")
	}
}
