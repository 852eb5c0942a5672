package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type probeResult struct {
	info *MediaInfo
	err  error
}

// stubProber hands out canned probe results in call order.
type stubProber struct {
	results []probeResult
	calls   int
}

func (p *stubProber) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if p.calls >= len(p.results) {
		return nil, errors.New("unexpected probe call")
	}
	r := p.results[p.calls]
	p.calls++
	return r.info, r.err
}

func TestRepairArgs(t *testing.T) {
	broken := &MediaInfo{DurationSeconds: 5, HasVideo: true}
	healthy := &MediaInfo{
		DurationSeconds: 5,
		HasVideo:        true,
		HasAudio:        true,
		Audio:           AudioDescriptor{Codec: "aac", Channels: 2, SampleRateHz: 44100},
	}

	tests := []struct {
		name  string
		info  *MediaInfo
		in    string
		out   string
		force bool
		want  []string
	}{
		{
			name: "synthesize silence, copy video",
			info: broken,
			in:   "site.avi",
			out:  "repaired.mp4",
			want: []string{
				"-y", "-i", "site.avi",
				"-t", "5.000",
				"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
				"-c:v", "copy",
				"-map", "0:v:0", "-map", "1:a:0", "-shortest",
				"-c:a", "aac", "-ar", "44100", "-ac", "2",
				"-movflags", "+faststart",
				"repaired.mp4",
			},
		},
		{
			name:  "synthesize silence with unknown duration, re-encode video",
			info:  &MediaInfo{HasVideo: true},
			in:    "site.avi",
			out:   "repaired.mkv",
			force: true,
			want: []string{
				"-y", "-i", "site.avi",
				"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
				"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
				"-map", "0:v:0", "-map", "1:a:0", "-shortest",
				"-c:a", "aac", "-ar", "44100", "-ac", "2",
				"repaired.mkv",
			},
		},
		{
			name:  "healthy audio, re-encode video",
			info:  healthy,
			in:    "site.mp4",
			out:   "normalized.mp4",
			force: true,
			want: []string{
				"-y", "-i", "site.mp4",
				"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
				"-c:a", "aac", "-ar", "44100", "-ac", "2",
				"-movflags", "+faststart",
				"normalized.mp4",
			},
		},
		{
			name: "healthy audio, copy video",
			info: healthy,
			in:   "site.mp4",
			out:  "copy.MOV",
			want: []string{
				"-y", "-i", "site.mp4",
				"-c:v", "copy",
				"-c:a", "aac", "-ar", "44100", "-ac", "2",
				"-movflags", "+faststart",
				"copy.MOV",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairArgs(tt.info, tt.in, tt.out, tt.force); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("repairArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepairReportsInspectionFailure(t *testing.T) {
	probeErr := errors.New("ffprobe exited with status 1")
	p := &stubProber{results: []probeResult{{err: probeErr}}}
	r := &Repairer{bin: "true", prober: p, timeout: time.Minute}

	_, err := r.Repair(context.Background(), "site.mp4", "repaired.mp4")
	if !errors.Is(err, probeErr) {
		t.Errorf("Repair() = %v, want wrapped probe error", err)
	}
}

func TestRepairRejectsMissingVideoStream(t *testing.T) {
	p := &stubProber{results: []probeResult{
		{info: &MediaInfo{
			DurationSeconds: 5,
			HasAudio:        true,
			Audio:           AudioDescriptor{Codec: "aac", Channels: 2, SampleRateHz: 44100},
		}},
	}}
	r := &Repairer{bin: "true", prober: p, timeout: time.Minute}

	_, err := r.Repair(context.Background(), "audio-only.m4a", "repaired.mp4")
	if !errors.Is(err, ErrUnrepairable) {
		t.Errorf("Repair() without video stream = %v, want ErrUnrepairable", err)
	}
}

func TestRepairReportsEncoderFailure(t *testing.T) {
	p := &stubProber{results: []probeResult{
		{info: &MediaInfo{DurationSeconds: 5, HasVideo: true}},
	}}
	r := &Repairer{bin: "/nonexistent/ffmpeg", prober: p, timeout: time.Minute}

	_, err := r.Repair(context.Background(), "site.mp4", filepath.Join(t.TempDir(), "repaired.mp4"))
	if err == nil || !strings.Contains(err.Error(), "ffmpeg repair failed") {
		t.Errorf("Repair() with broken encoder = %v, want ffmpeg failure", err)
	}
}

func TestRepairRemovesOutputStillFailingInspection(t *testing.T) {
	out := filepath.Join(t.TempDir(), "repaired.mp4")
	if err := os.WriteFile(out, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("failed to seed output file: %v", err)
	}
	// Input needs a silent track; the rewritten output probes just as broken.
	p := &stubProber{results: []probeResult{
		{info: &MediaInfo{DurationSeconds: 5, HasVideo: true}},
		{info: &MediaInfo{DurationSeconds: 5, HasVideo: true}},
	}}
	r := &Repairer{bin: "true", prober: p, timeout: time.Minute}

	_, err := r.Repair(context.Background(), "site.mp4", out)
	if !errors.Is(err, ErrUnrepairable) {
		t.Fatalf("Repair() = %v, want ErrUnrepairable", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output failing verification was left on disk")
	}
}

func TestRepairReturnsVerifiedDescriptor(t *testing.T) {
	healthy := &MediaInfo{
		DurationSeconds: 5,
		HasVideo:        true,
		HasAudio:        true,
		Audio:           AudioDescriptor{Codec: "aac", Channels: 2, SampleRateHz: 44100, DurationSeconds: 5},
	}
	p := &stubProber{results: []probeResult{
		{info: &MediaInfo{DurationSeconds: 5, HasVideo: true}},
		{info: healthy},
	}}
	r := &Repairer{bin: "true", prober: p, timeout: time.Minute}

	got, err := r.RepairForce(context.Background(), "site.mp4", filepath.Join(t.TempDir(), "repaired.mp4"))
	if err != nil {
		t.Fatalf("RepairForce() error: %v", err)
	}
	if got.Audio != healthy.Audio {
		t.Errorf("repaired audio = %+v, want %+v", got.Audio, healthy.Audio)
	}
	if got.Audio.NeedsRepair() {
		t.Error("verified output still flagged for repair")
	}
	if p.calls != 2 {
		t.Errorf("probe calls = %d, want input and output inspection", p.calls)
	}
}
