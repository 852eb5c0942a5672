// Package ffmpeg shells out to ffmpeg and ffprobe for media inspection,
// audio track repair and still-frame capture.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe invocation.
const DefaultProbeTimeout = 5 * time.Second

// AudioDescriptor describes the primary audio stream of a container.
// A zero value means the container carries no audio stream at all.
type AudioDescriptor struct {
	Codec           string  `json:"codec"`
	Channels        int     `json:"channels"`
	SampleRateHz    int     `json:"sample_rate_hz"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// NeedsRepair reports whether the audio track must be rebuilt before the
// file can be submitted for analysis: zero channels, a sample rate below
// 8 kHz, or a missing codec name. An absent stream probes as a zero value
// and therefore always needs repair.
func (d AudioDescriptor) NeedsRepair() bool {
	return d.Channels == 0 || d.SampleRateHz < 8000 || d.Codec == ""
}

// MediaInfo is the probed shape of a media file.
type MediaInfo struct {
	DurationSeconds float64         `json:"duration_seconds"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	HasVideo        bool            `json:"has_video"`
	HasAudio        bool            `json:"has_audio"`
	Audio           AudioDescriptor `json:"audio"`
}

// Prober wraps ffprobe.
type Prober struct {
	bin     string
	timeout time.Duration
}

// NewProber returns a prober using the given ffprobe binary. Empty bin falls
// back to "ffprobe" on PATH, non-positive timeout to DefaultProbeTimeout.
func NewProber(bin string, timeout time.Duration) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{bin: bin, timeout: timeout}
}

// Probe inspects the file at path and returns its duration, frame dimensions
// and audio stream shape. The invocation is bounded by the prober timeout on
// top of whatever deadline ctx already carries.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("media path cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffprobe timed out after %v for %s: %w", p.timeout, path, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %s", path, msg)
	}

	info, err := parseProbeOutput(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to read ffprobe output for %s: %w", path, err)
	}
	return info, nil
}

func parseProbeOutput(data []byte) (*MediaInfo, error) {
	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			Channels   int    `json:"channels"`
			SampleRate string `json:"sample_rate"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	info := &MediaInfo{}
	if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}

	// First stream of each type wins.
	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.Audio = AudioDescriptor{
				Codec:    s.CodecName,
				Channels: s.Channels,
			}
			if rate, err := strconv.Atoi(s.SampleRate); err == nil {
				info.Audio.SampleRateHz = rate
			}
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				info.Audio.DurationSeconds = d
			}
		}
	}
	if info.HasAudio && info.Audio.DurationSeconds == 0 {
		info.Audio.DurationSeconds = info.DurationSeconds
	}
	return info, nil
}
