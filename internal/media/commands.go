package media

import (
	"fmt"

	"mediabot/internal/avsync"
)

// MuxArgs builds the mux invocation applying the sync decision's single
// primary correction. Offsets arrive in milliseconds; the mux tool takes
// seconds.
func MuxArgs(videoPath, audioPath, outputPath string, d avsync.Decision) ([]string, error) {
	switch d.Decision {
	case avsync.DecisionNone:
		return []string{
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v", "-map", "1:a",
			"-c", "copy",
			"-y", outputPath,
		}, nil
	case avsync.DecisionDelay:
		return []string{
			"-i", videoPath,
			"-itsoffset", fmt.Sprintf("%.3f", d.OffsetMs/1000),
			"-i", audioPath,
			"-map", "0:v", "-map", "1:a",
			"-c", "copy",
			"-y", outputPath,
		}, nil
	case avsync.DecisionTrim:
		return []string{
			"-i", videoPath,
			"-ss", fmt.Sprintf("%.3f", d.OffsetMs/1000),
			"-i", audioPath,
			"-map", "0:v", "-map", "1:a",
			"-c", "copy",
			"-y", outputPath,
		}, nil
	case avsync.DecisionPad:
		delay := fmt.Sprintf("%.0f", d.OffsetMs)
		return []string{
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v", "-map", "1:a",
			"-c:v", "copy",
			"-filter:a", fmt.Sprintf("adelay=%s|%s", delay, delay),
			"-y", outputPath,
		}, nil
	case avsync.DecisionStretch:
		// atempo takes a playback-rate multiplier, the inverse of the
		// duration stretch ratio.
		return []string{
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v", "-map", "1:a",
			"-c:v", "copy",
			"-filter:a", fmt.Sprintf("atempo=%.6f", 1/d.StretchRatio),
			"-y", outputPath,
		}, nil
	default:
		return nil, fmt.Errorf("no mux plan for decision %q", d.Decision)
	}
}

// SampleArgs builds a stream-copy sample clip invocation.
func SampleArgs(inputPath, outputPath string, startSec, durationSec float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.1f", startSec),
		"-i", inputPath,
		"-t", fmt.Sprintf("%.1f", durationSec),
		"-c", "copy",
		"-y", outputPath,
	}
}

// ValidateArgs builds the validation probe over the muxed output. The
// driver parses the result and requires both streams present.
func ValidateArgs(outputPath string) []string {
	return ProbeArgs(outputPath)
}
