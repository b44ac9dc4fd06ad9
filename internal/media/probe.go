package media

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ProbeResult is the subset of probe output the pipeline consumes.
type ProbeResult struct {
	DurationSec float64
	HasVideo    bool
	HasAudio    bool
	AudioCodec  string
	VideoCodec  string
}

// SingleStream reports whether the asset carries only an audio or only a
// video stream, in which case sync analysis is skipped.
func (p *ProbeResult) SingleStream() bool {
	return p.HasVideo != p.HasAudio
}

// ProbeArgs builds the probe invocation for one media file.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	}
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbe decodes probe stdout into a ProbeResult.
func ParseProbe(stdout []byte) (*ProbeResult, error) {
	var payload probePayload
	if err := json.Unmarshal(stdout, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}

	result := &ProbeResult{}
	if payload.Format.Duration != "" {
		duration, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid probe duration %q: %w", payload.Format.Duration, err)
		}
		result.DurationSec = duration
	}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			result.HasVideo = true
			result.VideoCodec = stream.CodecName
		case "audio":
			result.HasAudio = true
			result.AudioCodec = stream.CodecName
		}
	}
	if !result.HasVideo && !result.HasAudio {
		return nil, fmt.Errorf("probe found no audio or video streams")
	}
	return result, nil
}
