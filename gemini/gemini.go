package gemini

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/patrickmn/go-cache"

	"github.com/wakecap/siteguard-video-analyzer/llm"
)

const promptSystem = `
You are **SiteGuard Analyzer**, a vision-enabled construction safety expert that converts site video footage into a structured, auditable safety report.

########################################
# 1. MISSION
########################################
For every input video you MUST:

Step 1: ========: Watch the full video and identify every safety violation: missing PPE (helmets, harnesses, hi-vis vests, eye protection), unsafe work at height, unguarded edges and floor openings, improper scaffolding, crane and rigging hazards, exposed electrical equipment, blocked escape routes, unsafe material handling, machinery operated without a spotter.
Step 2: ========: For each violation record when it starts and when it ends, in seconds from the beginning of the video.
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
* onScreenStartTime / onScreenEndTime carry the burned-in overlay value when visible, otherwise null. Copy the overlay exactly as shown.
* If the video cannot be assessed (unreadable, too dark, not a construction site), set the error field to a short reason. Keep any violations you extracted before assessment broke down.

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
  "error":                "<only when the video cannot be assessed, otherwise omit>"
}
########################################
`

const (
	geminiBase = "https://generativelanguage.googleapis.com"

	// Videos at or under this size are sent inline instead of through the
	// file API.
	inlineLimit = 15 << 20

	fileStateActive = "ACTIVE"
	fileStateFailed = "FAILED"
)

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
	FileData   *fileData   `json:"file_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"response_mime_type,omitempty"`
}

type geminiRequest struct {
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
	Contents         []content        `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	MimeType string `json:"mimeType"`
}

type fileWrapper struct {
	File geminiFile `json:"file"`
}

type Client struct {
	apiKey string
	model  string
	http   *http.Client

	// uploads maps a video content digest to its uploaded file URI so
	// re-analysis of the same footage skips the upload.
	uploads           *cache.Cache
	pollInterval      time.Duration
	activationTimeout time.Duration
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:            apiKey,
		model:             model,
		http:              &http.Client{},
		uploads:           cache.New(24*time.Hour, time.Hour),
		pollInterval:      2 * time.Second,
		activationTimeout: 2 * time.Minute,
	}
}

func (c *Client) SourceName() string {
	return "Gemini"
}

// AnalyzeVideo submits the video for hazard analysis and returns the model's
// raw JSON answer. Small files go inline; larger ones go through the file
// API (upload, wait for ACTIVE, then reference by URI).
func (c *Client) AnalyzeVideo(ctx context.Context, req llm.Request) (string, error) {
	prompt := buildPrompt(req)
	mime := req.MimeType
	if mime == "" {
		mime = "video/mp4"
	}

	st, err := os.Stat(req.VideoPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat video: %w", err)
	}

	if st.Size() <= inlineLimit {
		data, err := os.ReadFile(req.VideoPath)
		if err != nil {
			return "", fmt.Errorf("failed to read video: %w", err)
		}
		body := c.requestBody(prompt, part{InlineData: &inlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
		return c.generateContent(ctx, body)
	}

	digest, err := digestFile(req.VideoPath)
	if err != nil {
		return "", fmt.Errorf("failed to digest video: %w", err)
	}

	if cached, ok := c.uploads.Get(digest); ok {
		uri := cached.(string)
		out, err := c.generateContent(ctx, c.requestBody(prompt, part{FileData: &fileData{MimeType: mime, FileURI: uri}}))
		if err == nil {
			return out, nil
		}
		// The uploaded file may have expired server-side. Re-upload once.
		log.Infof("Cached Gemini file rejected, re-uploading: %v", err)
		c.uploads.Delete(digest)
	}

	f, err := c.uploadFile(ctx, req.VideoPath, mime, st.Size())
	if err != nil {
		return "", err
	}
	f, err = c.awaitActive(ctx, f)
	if err != nil {
		return "", err
	}
	c.uploads.Set(digest, f.URI, cache.DefaultExpiration)

	return c.generateContent(ctx, c.requestBody(prompt, part{FileData: &fileData{MimeType: mime, FileURI: f.URI}}))
}

func buildPrompt(req llm.Request) string {
	prompt := promptSystem
	if req.HazardContext != "" {
		prompt += "\n\nHAZARD_CONTEXT (site-specific hazards to watch for):\n" + req.HazardContext
	}
	if req.Instructions != "" {
		prompt += "\n\nOPERATOR_INSTRUCTIONS:\n" + req.Instructions
	}
	return prompt
}

func (c *Client) requestBody(prompt string, media part) geminiRequest {
	return geminiRequest{
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
		Contents: []content{
			{
				Role:  "user",
				Parts: []part{{Text: prompt}, media},
			},
		},
	}
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// uploadFile runs the resumable upload protocol: open a session, then send
// the bytes and finalize in one shot.
func (c *Client) uploadFile(ctx context.Context, path, mime string, size int64) (*geminiFile, error) {
	meta, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": filepath.Base(path)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}

	startURL := fmt.Sprintf("%s/upload/v1beta/files?key=%s", geminiBase, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(meta))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", size))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mime)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload session: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload session error (status %d): %s", resp.StatusCode, string(body))
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("upload session did not return a target URL")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	up, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	up.ContentLength = size
	up.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	up.Header.Set("X-Goog-Upload-Offset", "0")

	log.Infof("Uploading %s (%d bytes) to Gemini", filepath.Base(path), size)
	resp, err = c.http.Do(up)
	if err != nil {
		return nil, fmt.Errorf("failed to upload video: %w", err)
	}
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload error (status %d): %s", resp.StatusCode, string(body))
	}

	var fw fileWrapper
	if err := json.Unmarshal(body, &fw); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if fw.File.Name == "" {
		return nil, fmt.Errorf("upload response carried no file name")
	}
	return &fw.File, nil
}

// awaitActive polls the uploaded file until Gemini finishes processing it.
func (c *Client) awaitActive(ctx context.Context, f *geminiFile) (*geminiFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.activationTimeout)
	defer cancel()

	cur := f
	for {
		switch cur.State {
		case fileStateActive:
			return cur, nil
		case fileStateFailed:
			return nil, fmt.Errorf("gemini failed to process uploaded video %s", cur.Name)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("uploaded video %s not active in time: %w", cur.Name, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		next, err := c.getFile(ctx, cur.Name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
}

func (c *Client) getFile(ctx context.Context, name string) (*geminiFile, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", geminiBase, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file status: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read file status: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("file status error (status %d): %s", resp.StatusCode, string(body))
	}
	var f geminiFile
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("failed to parse file status: %w", err)
	}
	return &f, nil
}

func (c *Client) generateContent(ctx context.Context, body geminiRequest) (string, error) {
	// try v1beta first, then v1
	endpoints := []string{
		fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", geminiBase, c.model, c.apiKey),
		fmt.Sprintf("%s/v1/models/%s:generateContent?key=%s", geminiBase, c.model, c.apiKey),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for _, ep := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(data))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}
		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
			// retry next endpoint if available
			continue
		}
		var gr geminiResponse
		if err := json.Unmarshal(bodyBytes, &gr); err != nil {
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}
		if len(gr.Candidates) == 0 {
			lastErr = fmt.Errorf("no candidates in response")
			continue
		}
		// find first text part
		for _, p := range gr.Candidates[0].Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
		lastErr = fmt.Errorf("no text part in response")
	}
	return "", lastErr
}
