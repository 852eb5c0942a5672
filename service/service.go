// Package service wires the ingest, analysis, evidence-capture and report
// lifecycle pipelines together on top of the stores and the ffmpeg tooling.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/wakecap/siteguard-video-analyzer/config"
	"github.com/wakecap/siteguard-video-analyzer/ffmpeg"
	"github.com/wakecap/siteguard-video-analyzer/gemini"
	"github.com/wakecap/siteguard-video-analyzer/llm"
	"github.com/wakecap/siteguard-video-analyzer/metrics"
	"github.com/wakecap/siteguard-video-analyzer/models"
	"github.com/wakecap/siteguard-video-analyzer/openai"
	"github.com/wakecap/siteguard-video-analyzer/parser"
	"github.com/wakecap/siteguard-video-analyzer/stubllm"
)

var (
	// ErrNotConfigured means no LLM API key is present. Analysis cannot
	// start; surfaced immediately, never retried.
	ErrNotConfigured = errors.New("llm provider not configured")

	// ErrVideoNotReady means the video has not finished ingest processing.
	ErrVideoNotReady = errors.New("video is not ready for analysis")

	// ErrVideoTooLong rejects videos over the provider duration ceiling
	// before any transcoding is wasted on them.
	ErrVideoTooLong = errors.New("video exceeds the maximum duration")

	// ErrUploadTooLarge rejects uploads over the size ceiling.
	ErrUploadTooLarge = errors.New("upload exceeds the maximum size")
)

// Publisher is the broker surface the service uses to emit analyzed-report
// events. A nil Publisher disables publishing.
type Publisher interface {
	Publish(message interface{}) error
	IsConnected() bool
}

type Service struct {
	cfg       *config.Config
	store     Store
	llmClient llm.Client
	prober    *ffmpeg.Prober
	repairer  *ffmpeg.Repairer
	capturer  *ffmpeg.FrameCapturer
	binder    *EvidenceBinder
	session   *Session
	publisher Publisher

	backfillStop chan struct{}
	backfillWG   sync.WaitGroup
	bindWG       sync.WaitGroup
}

func NewService(cfg *config.Config, store Store, publisher Publisher) (*Service, error) {
	if err := os.MkdirAll(cfg.VideoDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create video directory %s: %w", cfg.VideoDir, err)
	}

	prober := ffmpeg.NewProber(cfg.FFprobePath, cfg.ProbeTimeout)
	capturer := ffmpeg.NewFrameCapturer(cfg.FFmpegPath, prober)
	capturer.SetTimeouts(cfg.MetadataTimeout, cfg.RenderTimeout)

	s := &Service{
		cfg:       cfg,
		store:     store,
		llmClient: newLLMClient(cfg, capturer),
		prober:    prober,
		repairer:  ffmpeg.NewRepairer(cfg.FFmpegPath, prober, cfg.RepairTimeout),
		capturer:  capturer,
		binder:    NewEvidenceBinder(capturer, store, store),
		session:   NewSession(),
		publisher: publisher,
	}
	return s, nil
}

func newLLMClient(cfg *config.Config, capturer *ffmpeg.FrameCapturer) llm.Client {
	switch strings.ToLower(cfg.LLMProvider) {
	case "openai", "chatgpt":
		if cfg.OpenAIAPIKey == "" {
			log.Warnf("LLM_PROVIDER is %s but OPENAI_API_KEY is empty, analysis disabled", cfg.LLMProvider)
			return nil
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, capturer)
	case "stub":
		return stubllm.NewClient()
	case "gemini", "":
		if cfg.GeminiAPIKey == "" {
			log.Warnf("GEMINI_API_KEY is empty, analysis disabled")
			return nil
		}
		return gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		log.Warnf("unknown LLM_PROVIDER %q, analysis disabled", cfg.LLMProvider)
		return nil
	}
}

// IngestVideo stores an uploaded video, normalizes it for the analysis
// provider and records the outcome. The row moves pending → processing →
// completed, or error with the cause; on error the returned video carries
// the failed row alongside the error.
func (s *Service) IngestVideo(ctx context.Context, fileName string, src io.Reader) (*models.Video, error) {
	id := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".mp4"
	}
	rawPath := filepath.Join(s.cfg.VideoDir, id+".upload"+ext)
	// Normalization always re-muxes into MP4 regardless of the upload
	// container.
	finalPath := filepath.Join(s.cfg.VideoDir, id+".mp4")

	size, err := writeBounded(rawPath, src, s.cfg.MaxUploadBytes)
	if err != nil {
		os.Remove(rawPath)
		metrics.VideosIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	video := &models.Video{
		ID:        id,
		FileName:  filepath.Base(fileName),
		SizeBytes: size,
		Status:    models.VideoPending,
	}
	if err := s.store.CreateVideo(ctx, video); err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	video.Status = models.VideoProcessing
	if err := s.store.UpdateVideo(ctx, video); err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	// Enforce the duration ceiling before transcoding anything.
	info, err := s.prober.Probe(ctx, rawPath)
	if err != nil {
		return s.failIngest(ctx, video, rawPath, fmt.Errorf("failed to probe upload: %w", err))
	}
	if s.cfg.MaxVideoDuration > 0 && info.DurationSeconds > s.cfg.MaxVideoDuration.Seconds() {
		return s.failIngest(ctx, video, rawPath,
			fmt.Errorf("%w: %.0fs over the %s limit", ErrVideoTooLong, info.DurationSeconds, s.cfg.MaxVideoDuration))
	}

	repaired, err := s.repairer.RepairForce(ctx, rawPath, finalPath)
	if err != nil {
		metrics.RepairsTotal.WithLabelValues("force", "error").Inc()
		return s.failIngest(ctx, video, rawPath, fmt.Errorf("failed to normalize video: %w", err))
	}
	metrics.RepairsTotal.WithLabelValues("force", "ok").Inc()
	os.Remove(rawPath)

	if fi, statErr := os.Stat(finalPath); statErr == nil {
		video.SizeBytes = fi.Size()
	}
	video.StoredPath = finalPath
	video.DurationSeconds = repaired.DurationSeconds
	video.Status = models.VideoCompleted
	video.Error = ""
	if err := s.store.UpdateVideo(ctx, video); err != nil {
		os.Remove(finalPath)
		return nil, err
	}
	metrics.VideosIngestedTotal.WithLabelValues("completed").Inc()
	log.Infof("video %s ingested: %s, %.1fs, %d bytes", video.ID, video.FileName, video.DurationSeconds, video.SizeBytes)
	return video, nil
}

func (s *Service) failIngest(ctx context.Context, video *models.Video, rawPath string, cause error) (*models.Video, error) {
	os.Remove(rawPath)
	video.Status = models.VideoError
	video.Error = cause.Error()
	if err := s.store.UpdateVideo(ctx, video); err != nil {
		log.Errorf("failed to record ingest error for video %s: %v", video.ID, err)
	}
	metrics.VideosIngestedTotal.WithLabelValues("error").Inc()
	log.Errorf("video %s ingest failed: %v", video.ID, cause)
	return video, cause
}

func writeBounded(path string, src io.Reader, max int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	reader := src
	if max > 0 {
		reader = io.LimitReader(src, max+1)
	}
	n, err := io.Copy(f, reader)
	if err != nil {
		return n, fmt.Errorf("failed to store upload: %w", err)
	}
	if max > 0 && n > max {
		return n, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, max)
	}
	return n, nil
}

// AnalyzeRequest carries the operator's analysis inputs.
type AnalyzeRequest struct {
	VideoID       string `json:"video_id"`
	HazardContext string `json:"hazard_context"`
	Instructions  string `json:"instructions"`
}

// Analyze submits a completed video to the configured provider, parses the
// response into a live analysis and starts progressive evidence capture in
// the background. The summary, score and violation list are available as
// soon as this returns; thumbnails populate on the session view as they
// land.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*models.AnalysisResult, error) {
	if s.llmClient == nil {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or OPENAI_API_KEY", ErrNotConfigured)
	}

	video, err := s.store.GetVideo(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if video.Status != models.VideoCompleted || video.StoredPath == "" {
		return nil, fmt.Errorf("video %s is %s: %w", video.ID, video.Status, ErrVideoNotReady)
	}

	gen := s.session.BeginAnalysis(video, req.HazardContext, req.Instructions)
	provider := s.llmClient.SourceName()

	actx := ctx
	if s.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := s.llmClient.AnalyzeVideo(actx, llm.Request{
		VideoPath:     video.StoredPath,
		MimeType:      "video/mp4",
		HazardContext: req.HazardContext,
		Instructions:  req.Instructions,
	})
	metrics.AnalysisDurationSeconds.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(provider, "error").Inc()
		s.session.AbortAnalysis(gen)
		return nil, fmt.Errorf("%s analysis failed: %w", provider, err)
	}
	metrics.AnalysesTotal.WithLabelValues(provider, "ok").Inc()

	result := parser.Parse(raw)
	if result.Error != "" && len(result.Violations) == 0 {
		metrics.ParseFailuresTotal.Inc()
	}
	if !s.session.CompleteAnalysis(gen, result) {
		log.Warnf("analysis of video %s finished after the session moved on, result dropped", video.ID)
		return result, nil
	}
	log.Infof("%s analyzed video %s: %d violations, %d observations",
		provider, video.ID, len(result.Violations), len(result.PositiveObservations))

	storedPath := video.StoredPath
	s.bindWG.Add(1)
	go func() {
		defer s.bindWG.Done()
		handle := ffmpeg.NewVideoHandle(storedPath)
		s.binder.BindLive(context.Background(), s.session, gen, handle)
	}()

	return result, nil
}

// SaveReport persists the live analysis as a report exactly once and makes
// it the active report. Rejected when the analysis failed without
// extracting any violations.
func (s *Service) SaveReport(ctx context.Context) (*models.Report, error) {
	snap, err := s.session.SaveableSnapshot()
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		AnalysisResult: snap.Result,
		ID:             uuid.New().String(),
		VideoID:        snap.VideoID,
		VideoFileName:  snap.VideoFileName,
		SourceURI:      snap.SourceURI,
		VideoDuration:  snap.VideoDuration,
		HazardContext:  snap.HazardContext,
		Instructions:   snap.Instructions,
		Status:         models.StatusPendingReview,
		AnalyzedAt:     time.Now(),
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	s.session.MarkSaved(report.ID)
	s.publishAnalyzed(report)
	log.Infof("report %s saved for video %s, %d violations", report.ID, report.VideoID, len(report.Violations))
	return report, nil
}

func (s *Service) publishAnalyzed(report *models.Report) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(report); err != nil {
		log.Errorf("failed to publish analyzed report %s: %v", report.ID, err)
	}
}

// LoadReport switches the session to a historical report and returns it.
func (s *Service) LoadReport(ctx context.Context, id string) (*models.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	s.session.LoadReport(report.ID)
	return report, nil
}

// ResetSession clears the session view.
func (s *Service) ResetSession() {
	s.session.Reset()
}

// SessionSnapshot returns the current session view.
func (s *Service) SessionSnapshot() SessionView {
	return s.session.Snapshot()
}

// UpdateActiveReport applies operator input to the active report. The id
// must match the active report; a diverged view is an error for the caller
// to resolve.
func (s *Service) UpdateActiveReport(ctx context.Context, reportID string, patch models.ReportPatch) (*models.Report, error) {
	if err := s.session.EnsureActive(reportID); err != nil {
		return nil, err
	}
	return s.store.UpdateReport(ctx, reportID, patch)
}

// RebindEvidence re-runs evidence capture for a report's pending
// violations.
func (s *Service) RebindEvidence(ctx context.Context, reportID string) (int, int, error) {
	return s.binder.BindReport(ctx, reportID)
}

// DeleteVideo removes the stored file and the row.
func (s *Service) DeleteVideo(ctx context.Context, id string) error {
	video, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if video.StoredPath != "" {
		if err := os.Remove(video.StoredPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("failed to remove video file %s: %v", video.StoredPath, err)
		}
	}
	return s.store.DeleteVideo(ctx, id)
}

// StatusInfo summarizes the service for the status endpoint.
type StatusInfo struct {
	Provider        string      `json:"provider"`
	ProviderReady   bool        `json:"provider_ready"`
	BrokerConnected bool        `json:"broker_connected"`
	Session         SessionView `json:"session"`
}

func (s *Service) Status() StatusInfo {
	info := StatusInfo{
		Provider: s.cfg.LLMProvider,
		Session:  s.session.Snapshot(),
	}
	if s.llmClient != nil {
		info.Provider = s.llmClient.SourceName()
		info.ProviderReady = true
	}
	if s.publisher != nil {
		info.BrokerConnected = s.publisher.IsConnected()
	}
	return info
}

// StartBackfill launches the background worker that finishes evidence
// capture for saved reports still carrying pending thumbnails. Reports
// bind in parallel on independent handles; captures within one report stay
// sequential.
func (s *Service) StartBackfill() {
	if s.cfg.BackfillInterval <= 0 {
		return
	}
	s.backfillStop = make(chan struct{})
	s.backfillWG.Add(1)
	go func() {
		defer s.backfillWG.Done()
		log.Infof("thumbnail backfill worker started, interval %s", s.cfg.BackfillInterval)
		ticker := time.NewTicker(s.cfg.BackfillInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.backfillStop:
				return
			case <-ticker.C:
				s.runBackfill(context.Background())
			}
		}
	}()
}

// StopBackfill stops the worker and waits out in-flight captures.
func (s *Service) StopBackfill() {
	if s.backfillStop != nil {
		close(s.backfillStop)
		s.backfillWG.Wait()
	}
	s.bindWG.Wait()
}

func (s *Service) runBackfill(ctx context.Context) {
	ids, err := s.store.ListReportIDsWithPendingThumbnails(ctx, s.cfg.BackfillBatchSize)
	if err != nil {
		log.Errorf("backfill query failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	log.Infof("backfill: %d reports with pending thumbnails", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(reportID string) {
			defer wg.Done()
			if _, _, err := s.binder.BindReport(ctx, reportID); err != nil {
				log.Errorf("backfill of report %s failed: %v", reportID, err)
				return
			}
			metrics.BackfillReportsTotal.Inc()
		}(id)
	}
	wg.Wait()
}
