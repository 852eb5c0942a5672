package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
)

// DefaultRepairTimeout bounds a single repair run. Re-encoding long footage
// is slow, so this is generous.
const DefaultRepairTimeout = 10 * time.Minute

// ErrUnrepairable means a repair run produced output that still fails audio
// inspection. The file must not be submitted for analysis.
var ErrUnrepairable = errors.New("output still fails audio inspection after repair")

// inspector probes media files before and after a rewrite. Satisfied by
// *Prober.
type inspector interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// Repairer rewrites containers whose audio stream is absent or malformed so
// the analysis service accepts them.
type Repairer struct {
	bin     string
	prober  inspector
	timeout time.Duration
}

// NewRepairer returns a repairer using the given ffmpeg binary. Empty bin
// falls back to "ffmpeg" on PATH, non-positive timeout to
// DefaultRepairTimeout.
func NewRepairer(bin string, prober *Prober, timeout time.Duration) *Repairer {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = DefaultRepairTimeout
	}
	return &Repairer{bin: bin, prober: prober, timeout: timeout}
}

// Repair writes a copy of in at out with a synthesized silent stereo
// 44.1 kHz AAC track bounded to the video duration. The video stream is
// copied without re-encoding and the input file is never modified. The
// repaired output is re-probed before returning; output that still fails
// inspection is removed and reported as ErrUnrepairable.
func (r *Repairer) Repair(ctx context.Context, in, out string) (*MediaInfo, error) {
	return r.run(ctx, in, out, false)
}

// RepairForce additionally re-encodes the video stream to H.264, normalizing
// the container regardless of detected defects. A healthy audio stream is
// kept and transcoded to AAC; silence is synthesized only when the probe
// shows no usable audio.
func (r *Repairer) RepairForce(ctx context.Context, in, out string) (*MediaInfo, error) {
	return r.run(ctx, in, out, true)
}

func (r *Repairer) run(ctx context.Context, in, out string, force bool) (*MediaInfo, error) {
	info, err := r.prober.Probe(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", in, err)
	}
	if !info.HasVideo {
		return nil, fmt.Errorf("%s has no video stream: %w", in, ErrUnrepairable)
	}

	synthesize := info.Audio.NeedsRepair()
	args := repairArgs(info, in, out, force)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Infof("Repairing %s -> %s (force=%v, synthesize=%v)", in, out, force, synthesize)
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffmpeg repair timed out after %v for %s", r.timeout, in)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg repair failed for %s: %s", in, msg)
	}

	// Post-repair verification runs on the caller context, not the
	// possibly exhausted run context.
	repaired, err := r.prober.Probe(ctx, out)
	if err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("failed to verify repaired output %s: %w", out, err)
	}
	if repaired.Audio.NeedsRepair() {
		os.Remove(out)
		return nil, fmt.Errorf("repair of %s: %w", in, ErrUnrepairable)
	}
	return repaired, nil
}

// repairArgs assembles the ffmpeg invocation for one run against the probed
// input. A silent stereo track is synthesized as a second input whenever the
// audio descriptor fails inspection; force swaps the stream copy for an
// H.264 re-encode.
func repairArgs(info *MediaInfo, in, out string, force bool) []string {
	synthesize := info.Audio.NeedsRepair()

	args := []string{"-y", "-i", in}
	if synthesize {
		// Bound the silent track to the video duration. -shortest is the
		// backstop when the probe could not determine one.
		if info.DurationSeconds > 0 {
			args = append(args, "-t", strconv.FormatFloat(info.DurationSeconds, 'f', 3, 64))
		}
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
	}
	if force {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p")
	} else {
		args = append(args, "-c:v", "copy")
	}
	if synthesize {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-shortest")
	}
	args = append(args, "-c:a", "aac", "-ar", "44100", "-ac", "2")
	switch strings.ToLower(filepath.Ext(out)) {
	case ".mp4", ".mov", ".m4v":
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, out)
	return args
}
