package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wakecap/siteguard-video-analyzer/config"
	"github.com/wakecap/siteguard-video-analyzer/memstore"
	"github.com/wakecap/siteguard-video-analyzer/models"
)

// newTestService builds a service on the in-memory store with the stub
// analyzer and unreachable ffmpeg binaries, so capture attempts fail fast
// and deterministically instead of shelling out.
func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *memstore.Store) {
	t.Helper()
	cfg := &config.Config{
		VideoDir:          filepath.Join(t.TempDir(), "videos"),
		MaxUploadBytes:    100 << 20,
		MaxVideoDuration:  2 * time.Hour,
		LLMProvider:       "stub",
		AnalysisTimeout:   5 * time.Second,
		FFmpegPath:        "/nonexistent/ffmpeg",
		FFprobePath:       "/nonexistent/ffprobe",
		ProbeTimeout:      time.Second,
		RepairTimeout:     time.Second,
		MetadataTimeout:   time.Second,
		RenderTimeout:     time.Second,
		BackfillInterval:  time.Minute,
		BackfillBatchSize: 10,
	}
	if mutate != nil {
		mutate(cfg)
	}
	store := memstore.New()
	svc, err := NewService(cfg, store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func completedVideo(id, storedPath string) *models.Video {
	return &models.Video{
		ID:              id,
		FileName:        "site.mp4",
		StoredPath:      storedPath,
		SizeBytes:       2048,
		DurationSeconds: 42,
		Status:          models.VideoCompleted,
	}
}

func TestAnalyzeLifecycle(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	video := completedVideo("v-1", filepath.Join(svc.cfg.VideoDir, "v-1.mp4"))
	if err := store.CreateVideo(ctx, video); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	result, err := svc.Analyze(ctx, AnalyzeRequest{
		VideoID:       "v-1",
		HazardContext: "deep excavation next to the access road",
		Instructions:  "focus on fall protection",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Analyze: expected 1 violation, got %d", len(result.Violations))
	}
	if result.Violations[0].Severity != models.SeverityHigh {
		t.Errorf("Analyze: expected High severity, got %q", result.Violations[0].Severity)
	}
	if result.SafetyScore == nil || *result.SafetyScore != 72 {
		t.Errorf("Analyze: expected safety score 72, got %v", result.SafetyScore)
	}

	// Drain the background capture. The ffprobe binary does not exist, so
	// every pending thumbnail resolves to failed rather than pending.
	svc.StopBackfill()
	view := svc.SessionSnapshot()
	if view.Kind != "live" || view.Live == nil {
		t.Fatalf("SessionSnapshot: expected live view, got %+v", view)
	}
	if view.Live.Violations[0].ThumbnailStatus != models.ThumbnailFailed {
		t.Errorf("SessionSnapshot: expected failed thumbnail, got %q", view.Live.Violations[0].ThumbnailStatus)
	}

	report, err := svc.SaveReport(ctx)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if report.VideoID != "v-1" || report.VideoFileName != "site.mp4" || report.VideoDuration != 42 {
		t.Errorf("SaveReport: report lost video provenance: %+v", report)
	}
	if report.HazardContext != "deep excavation next to the access road" {
		t.Errorf("SaveReport: report lost hazard context: %q", report.HazardContext)
	}
	if report.Status != models.StatusPendingReview {
		t.Errorf("SaveReport: expected status %q, got %q", models.StatusPendingReview, report.Status)
	}

	stored, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if len(stored.Violations) != 1 || stored.Violations[0].Description != result.Violations[0].Description {
		t.Errorf("GetReport: stored report diverges from analysis: %+v", stored.Violations)
	}

	if _, err := svc.SaveReport(ctx); !errors.Is(err, ErrAlreadySaved) {
		t.Errorf("SaveReport twice: expected ErrAlreadySaved, got %v", err)
	}

	comment := "harness installed, closing out"
	updated, err := svc.UpdateActiveReport(ctx, report.ID, models.ReportPatch{OperatorComment: &comment})
	if err != nil {
		t.Fatalf("UpdateActiveReport: %v", err)
	}
	if updated.OperatorComment != comment {
		t.Errorf("UpdateActiveReport: expected comment %q, got %q", comment, updated.OperatorComment)
	}
	if _, err := svc.UpdateActiveReport(ctx, "r-other", models.ReportPatch{}); !errors.Is(err, ErrReportMismatch) {
		t.Errorf("UpdateActiveReport with wrong id: expected ErrReportMismatch, got %v", err)
	}
}

func TestAnalyzeRejectsUnreadyVideo(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	testCases := []struct {
		name  string
		video *models.Video
		want  error
	}{
		{
			name:  "Still processing",
			video: &models.Video{ID: "v-proc", FileName: "a.mp4", Status: models.VideoProcessing},
			want:  ErrVideoNotReady,
		},
		{
			name:  "Failed ingest",
			video: &models.Video{ID: "v-err", FileName: "b.mp4", Status: models.VideoError, Error: "bad container"},
			want:  ErrVideoNotReady,
		},
		{
			name:  "Completed but no stored file",
			video: &models.Video{ID: "v-nofile", FileName: "c.mp4", Status: models.VideoCompleted},
			want:  ErrVideoNotReady,
		},
	}
	for _, testCase := range testCases {
		if err := store.CreateVideo(ctx, testCase.video); err != nil {
			t.Fatalf("%s: CreateVideo: %v", testCase.name, err)
		}
		_, err := svc.Analyze(ctx, AnalyzeRequest{VideoID: testCase.video.ID})
		if !errors.Is(err, testCase.want) {
			t.Errorf("%s: expected %v, got %v", testCase.name, testCase.want, err)
		}
	}

	if _, err := svc.Analyze(ctx, AnalyzeRequest{VideoID: "missing"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Analyze missing video: expected ErrNotFound, got %v", err)
	}
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.Config) {
		cfg.LLMProvider = "gemini"
		cfg.GeminiAPIKey = ""
	})

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{VideoID: "v-1"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Analyze without provider: expected ErrNotConfigured, got %v", err)
	}
}

func TestSaveReportRequiresAnalysis(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.SaveReport(context.Background()); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("SaveReport on empty session: expected ErrNothingToSave, got %v", err)
	}
}

func TestLoadReportActivatesIt(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	report := &models.Report{
		AnalysisResult: models.AnalysisResult{Summary: "archived run"},
		ID:             "r-1",
		VideoID:        "v-1",
		Status:         models.StatusPendingReview,
		AnalyzedAt:     time.Now(),
	}
	if err := store.CreateReport(ctx, report); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	loaded, err := svc.LoadReport(ctx, "r-1")
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if loaded.Summary != "archived run" {
		t.Errorf("LoadReport: expected stored summary, got %q", loaded.Summary)
	}

	view := svc.SessionSnapshot()
	if view.Kind != "historical" || view.HistoricalID != "r-1" || view.ActiveReportID != "r-1" {
		t.Errorf("SessionSnapshot: expected historical r-1 active, got %+v", view)
	}

	status := models.StatusReviewed
	if _, err := svc.UpdateActiveReport(ctx, "r-1", models.ReportPatch{Status: &status}); err != nil {
		t.Errorf("UpdateActiveReport on loaded report: %v", err)
	}

	if _, err := svc.LoadReport(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("LoadReport missing: expected ErrNotFound, got %v", err)
	}

	svc.ResetSession()
	if view := svc.SessionSnapshot(); view.Kind != "none" {
		t.Errorf("ResetSession: expected empty view, got %+v", view)
	}
	if _, err := svc.UpdateActiveReport(ctx, "r-1", models.ReportPatch{}); !errors.Is(err, ErrReportMismatch) {
		t.Errorf("UpdateActiveReport after reset: expected ErrReportMismatch, got %v", err)
	}
}

func TestIngestRejectsOversizedUpload(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.Config) {
		cfg.MaxUploadBytes = 16
	})

	_, err := svc.IngestVideo(context.Background(), "big.mp4", strings.NewReader(strings.Repeat("x", 64)))
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("IngestVideo: expected ErrUploadTooLarge, got %v", err)
	}

	entries, err := os.ReadDir(svc.cfg.VideoDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("IngestVideo: rejected upload left %d files behind", len(entries))
	}
}

func TestIngestRecordsProbeFailure(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	video, err := svc.IngestVideo(ctx, "clip.webm", strings.NewReader("not a real video"))
	if err == nil {
		t.Fatal("IngestVideo: expected an error from the unreachable prober")
	}
	if video == nil || video.Status != models.VideoError || video.Error == "" {
		t.Fatalf("IngestVideo: expected failed video row alongside the error, got %+v", video)
	}

	stored, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if stored.Status != models.VideoError {
		t.Errorf("GetVideo: expected persisted error status, got %q", stored.Status)
	}

	entries, err := os.ReadDir(svc.cfg.VideoDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("IngestVideo: failed ingest left %d files behind", len(entries))
	}
}

func TestRebindEvidenceFailsUnreachableVideo(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	if err := store.CreateVideo(ctx, completedVideo("v-1", "/nonexistent/v-1.mp4")); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	report := &models.Report{
		AnalysisResult: models.AnalysisResult{
			Summary: "pending evidence",
			Violations: []models.Violation{
				{Description: "no hard hat", StartTimeSeconds: 3, EndTimeSeconds: 6, Severity: models.SeverityMedium, ThumbnailStatus: models.ThumbnailPending},
				{Description: "already resolved", StartTimeSeconds: 10, EndTimeSeconds: 12, Severity: models.SeverityLow, ThumbnailStatus: models.ThumbnailCaptured, Thumbnail: []byte{0xff}},
			},
		},
		ID:         "r-1",
		VideoID:    "v-1",
		Status:     models.StatusPendingReview,
		AnalyzedAt: time.Now(),
	}
	if err := store.CreateReport(ctx, report); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	captured, failed, err := svc.RebindEvidence(ctx, "r-1")
	if err != nil {
		t.Fatalf("RebindEvidence: %v", err)
	}
	if captured != 0 || failed != 1 {
		t.Errorf("RebindEvidence: expected 0 captured 1 failed, got %d/%d", captured, failed)
	}

	stored, err := store.GetReport(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if stored.Violations[0].ThumbnailStatus != models.ThumbnailFailed {
		t.Errorf("RebindEvidence: expected failed thumbnail, got %q", stored.Violations[0].ThumbnailStatus)
	}
	if stored.Violations[1].ThumbnailStatus != models.ThumbnailCaptured {
		t.Errorf("RebindEvidence: resolved thumbnail must not be touched, got %q", stored.Violations[1].ThumbnailStatus)
	}

	// Nothing pending left, so a second pass is a no-op.
	captured, failed, err = svc.RebindEvidence(ctx, "r-1")
	if err != nil || captured != 0 || failed != 0 {
		t.Errorf("RebindEvidence second pass: expected no-op, got %d/%d (%v)", captured, failed, err)
	}
}

func TestBackfillResolvesPendingThumbnails(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	if err := store.CreateVideo(ctx, completedVideo("v-1", "/nonexistent/v-1.mp4")); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	report := &models.Report{
		AnalysisResult: models.AnalysisResult{
			Summary: "awaiting backfill",
			Violations: []models.Violation{
				{Description: "trench unshored", StartTimeSeconds: 5, EndTimeSeconds: 9, Severity: models.SeverityCritical, ThumbnailStatus: models.ThumbnailPending},
			},
		},
		ID:         "r-1",
		VideoID:    "v-1",
		Status:     models.StatusPendingReview,
		AnalyzedAt: time.Now(),
	}
	if err := store.CreateReport(ctx, report); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	svc.runBackfill(ctx)

	stored, err := store.GetReport(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if stored.Violations[0].ThumbnailStatus != models.ThumbnailFailed {
		t.Errorf("runBackfill: expected failed thumbnail, got %q", stored.Violations[0].ThumbnailStatus)
	}

	ids, err := store.ListReportIDsWithPendingThumbnails(ctx, 10)
	if err != nil {
		t.Fatalf("ListReportIDsWithPendingThumbnails: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("runBackfill: expected no pending reports left, got %v", ids)
	}
}

func TestDeleteVideoRemovesStoredFile(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	storedPath := filepath.Join(svc.cfg.VideoDir, "v-1.mp4")
	if err := os.WriteFile(storedPath, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.CreateVideo(ctx, completedVideo("v-1", storedPath)); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	if err := svc.DeleteVideo(ctx, "v-1"); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if _, err := os.Stat(storedPath); !os.IsNotExist(err) {
		t.Errorf("DeleteVideo: stored file still present (%v)", err)
	}
	if _, err := store.GetVideo(ctx, "v-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("DeleteVideo: expected row gone, got %v", err)
	}

	if err := svc.DeleteVideo(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("DeleteVideo missing: expected ErrNotFound, got %v", err)
	}
}

func TestStatusReportsProvider(t *testing.T) {
	svc, _ := newTestService(t, nil)

	info := svc.Status()
	if !info.ProviderReady || info.Provider != "Stub" {
		t.Errorf("Status: expected ready Stub provider, got %+v", info)
	}
	if info.BrokerConnected {
		t.Error("Status: expected broker disconnected without a publisher")
	}
	if info.Session.Kind != "none" {
		t.Errorf("Status: expected empty session, got %+v", info.Session)
	}
}
