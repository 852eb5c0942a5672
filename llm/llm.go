package llm

import "context"

// Request carries one video analysis job.
type Request struct {
	// VideoPath is the local path of the repaired video file.
	VideoPath string
	// MimeType of the container, e.g. "video/mp4". Empty defaults to mp4.
	MimeType string
	// HazardContext describes site-specific hazards the model should watch
	// for, e.g. "deep excavation on the north side, crane lifts after 10am".
	HazardContext string
	// Instructions is free-form operator guidance appended to the prompt.
	Instructions string
}

// Client abstracts a multimodal provider used by the analyzer.
// Implementations must be concurrency-safe if used across goroutines.
type Client interface {
	// AnalyzeVideo submits the video and returns a single JSON string per
	// the analyzer schema.
	AnalyzeVideo(ctx context.Context, req Request) (string, error)
	// SourceName returns a short provider label to persist in the database
	// (e.g., "ChatGPT", "Gemini").
	SourceName() string
}
