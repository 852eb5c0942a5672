package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/wakecap/siteguard-video-analyzer/ffmpeg"
	"github.com/wakecap/siteguard-video-analyzer/llm"
)

const promptSystem = `
You are **SiteGuard Analyzer**, a vision-enabled construction safety expert that converts site video footage into a structured, auditable safety report.

You are given still frames sampled from a site video in playback order. The capture time of each frame, in seconds from the start of the video, is listed below. Treat the frames as one continuous recording.

########################################
# 1. MISSION
########################################
Step 1: ========: Examine every frame and identify every safety violation: missing PPE (helmets, harnesses, hi-vis vests, eye protection), unsafe work at height, unguarded edges and floor openings, improper scaffolding, crane and rigging hazards, exposed electrical equipment, blocked escape routes, unsafe material handling, machinery operated without a spotter.
Step 2: ========: For each violation, derive startTimeSeconds and endTimeSeconds from the capture times of the frames where it is visible. A violation visible in one frame only spans that frame's capture time.
Step 3: ========: If a timestamp overlay is burned into the frames (corner clock from the site camera), record the overlay value at the violation start and end.
Step 4: ========: Note work done correctly (proper PPE, good housekeeping, correct barricading, tag lines in use) as positive observations.
Step 5: ========: Output a **single, valid JSON object** and nothing else.

########################################
# 2. OUTPUT RULES
########################################
* JSON only — no wrapping markdown.
* Every violation needs startTimeSeconds and endTimeSeconds as numbers; endTimeSeconds must never be before startTimeSeconds.
* severity is exactly one of: Critical, High, Medium, Low, Info.
* safetyScore is an integer 0-100; 100 means no violations of any kind were observed.
* onScreenStartTime / onScreenEndTime carry the burned-in overlay value when visible, otherwise null.
* If the frames cannot be assessed (unreadable, too dark, not a construction site), set the error field to a short reason. Keep any violations you extracted before assessment broke down.

########################################
# 3. OUTPUT SCHEMA
{
  "summary":              "<2-4 sentences describing overall site safety>",
  "safetyScore":          <0-100>,
  "violations": [
    {
      "description":       "<what is wrong, who is involved, where in frame>",
      "startTimeSeconds":  <number>,
      "endTimeSeconds":    <number>,
      "durationSeconds":   <number>,
      "severity":          "<Critical | High | Medium | Low | Info>",
      "onScreenStartTime": "<overlay clock at start, or null>",
      "onScreenEndTime":   "<overlay clock at end, or null>"
    }
  ],
  "positiveObservations": ["<good practice 1>", "<good practice 2>"],
  "error":                "<only when the frames cannot be assessed, otherwise omit>"
}
########################################
`

// maxSampledFrames bounds how many stills one analysis sends.
const maxSampledFrames = 8

// Client analyzes a video by sampling frames and sending them through the
// OpenAI chat completions API. Unlike the Gemini path there is no native
// video input, so temporal resolution is limited by the sample count.
type Client struct {
	client   *goopenai.Client
	model    string
	capturer *ffmpeg.FrameCapturer
}

func NewClient(apiKey, model string, capturer *ffmpeg.FrameCapturer) *Client {
	return &Client{
		client:   goopenai.NewClient(apiKey),
		model:    model,
		capturer: capturer,
	}
}

func (c *Client) SourceName() string {
	return "ChatGPT"
}

func (c *Client) AnalyzeVideo(ctx context.Context, req llm.Request) (string, error) {
	handle := ffmpeg.NewVideoHandle(req.VideoPath)
	meta, err := c.capturer.Metadata(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("failed to inspect video: %w", err)
	}
	if meta.DurationSeconds <= 0 {
		return "", fmt.Errorf("video has no usable duration")
	}

	count := maxSampledFrames
	if whole := int(meta.DurationSeconds); whole > 0 && whole < count {
		count = whole
	}

	var (
		times  []float64
		frames [][]byte
	)
	for i := 0; i < count; i++ {
		at := meta.DurationSeconds * (float64(i) + 0.5) / float64(count)
		frame, err := c.capturer.Capture(ctx, handle, at)
		if err != nil {
			log.Warnf("Frame sample at %.1fs failed: %v", at, err)
			continue
		}
		if frame == nil {
			continue
		}
		times = append(times, at)
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return "", errors.New("could not extract any frames from the video")
	}

	var captureTimes strings.Builder
	captureTimes.WriteString("\n\nFRAME_CAPTURE_TIMES (seconds, in order):\n")
	for i, at := range times {
		fmt.Fprintf(&captureTimes, "frame %d: %.1f\n", i+1, at)
	}

	prompt := promptSystem + captureTimes.String()
	if req.HazardContext != "" {
		prompt += "\nHAZARD_CONTEXT (site-specific hazards to watch for):\n" + req.HazardContext
	}
	if req.Instructions != "" {
		prompt += "\nOPERATOR_INSTRUCTIONS:\n" + req.Instructions
	}

	parts := []goopenai.ChatMessagePart{
		{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, frame := range frames {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
				Detail: goopenai.ImageURLDetailLow,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:         goopenai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
