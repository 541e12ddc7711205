// Package media extracts analysable assets from captured video files by
// shelling out to ffmpeg: one representative frame for image analysis and
// the audio track for transcription.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Extractor runs ffmpeg/ffprobe from PATH.
type Extractor struct {
	ffmpeg  string
	ffprobe string
}

// NewExtractor creates an extractor using the ffmpeg and ffprobe binaries
// found on PATH.
func NewExtractor() *Extractor {
	return &Extractor{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
}

// Frame extracts the middle frame of the video as JPEG bytes. The middle
// is chosen as a cheap representative sample of the content.
func (e *Extractor) Frame(ctx context.Context, videoPath string) ([]byte, error) {
	duration, err := e.duration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	out, err := os.CreateTemp("", "frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("media: temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-y",
		"-ss", strconv.FormatFloat(duration/2, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("media: ffmpeg frame: %w: %s", err, tail(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("media: read frame: %w", err)
	}
	return data, nil
}

// Audio extracts the audio track as MP3 bytes.
func (e *Extractor) Audio(ctx context.Context, videoPath string) ([]byte, error) {
	out, err := os.CreateTemp("", "audio-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("media: temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "4",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("media: ffmpeg audio: %w: %s", err, tail(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("media: read audio: %w", err)
	}
	return data, nil
}

// duration probes the container duration in seconds.
func (e *Extractor) duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return d, nil
}

// tail returns the last line of ffmpeg output, where the actual error is.
func tail(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
