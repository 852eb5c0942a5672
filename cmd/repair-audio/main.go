// Command repair-audio inspects a video's audio track and rewrites the
// container when the track is absent or malformed, the same normalization the
// analyzer service applies on ingest. Exit code 0 means the input passes or
// was repaired and verified; 1 means a missing tool or unrepairable input.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/wakecap/siteguard-video-analyzer/ffmpeg"
)

var (
	inPath     = flag.String("in", "", "Video file to inspect.")
	outPath    = flag.String("out", "", "Where to write the repaired copy.")
	force      = flag.Bool("force", false, "Rebuild the container even when inspection passes.")
	ffmpegBin  = flag.String("ffmpeg", "ffmpeg", "ffmpeg binary.")
	ffprobeBin = flag.String("ffprobe", "ffprobe", "ffprobe binary.")
	timeout    = flag.Duration("timeout", ffmpeg.DefaultRepairTimeout, "Ceiling for one repair run.")
)

func describe(info *ffmpeg.MediaInfo) string {
	video := fmt.Sprintf("%.1fs %dx%d", info.DurationSeconds, info.Width, info.Height)
	if !info.HasAudio {
		return video + ", no audio stream"
	}
	return fmt.Sprintf("%s, audio %s %dch %dHz",
		video, info.Audio.Codec, info.Audio.Channels, info.Audio.SampleRateHz)
}

func main() {
	flag.Parse()
	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "repair-audio: -in is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	prober := ffmpeg.NewProber(*ffprobeBin, 0)

	info, err := prober.Probe(ctx, *inPath)
	if err != nil {
		log.Errorf("Cannot inspect %s: %v", *inPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", *inPath, describe(info))

	if !info.Audio.NeedsRepair() && !*force {
		fmt.Println("Audio passes inspection, nothing to repair.")
		return
	}
	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "repair-audio: -out is required to write the repaired copy")
		os.Exit(2)
	}

	repairer := ffmpeg.NewRepairer(*ffmpegBin, prober, *timeout)
	var repaired *ffmpeg.MediaInfo
	if *force {
		repaired, err = repairer.RepairForce(ctx, *inPath, *outPath)
	} else {
		repaired, err = repairer.Repair(ctx, *inPath, *outPath)
	}
	if err != nil {
		log.Errorf("Repair failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %s\n", *outPath, describe(repaired))
	fmt.Println("Repair verified, output passes audio inspection.")
}
