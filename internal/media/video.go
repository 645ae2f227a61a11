package media

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

// ErrNoVideoStreams is returned when ffprobe finds no video track.
var ErrNoVideoStreams = errors.New("no video streams found")

// VideoInfo is what ffprobe reports about the first video stream.
type VideoInfo struct {
	Duration time.Duration
	Codec    string
	Width    int
	Height   int
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(payload []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := VideoInfo{Codec: s.CodecName, Width: s.Width, Height: s.Height}
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = time.Duration(d * float64(time.Second))
		}
		return info, nil
	}
	return VideoInfo{}, ErrNoVideoStreams
}

// FFmpeg shells out to ffprobe and ffmpeg. Binary paths are resolved once by
// LookupFFmpeg; a nil *FFmpeg means video inspection is unavailable.
type FFmpeg struct {
	ffprobe string
	ffmpeg  string
	spec    ThumbnailSpec
	offset  time.Duration
}

// LookupFFmpeg resolves both binaries on PATH. It returns an error when either
// is missing so callers can disable the video stage at startup.
func LookupFFmpeg(ffprobePath, ffmpegPath string, spec ThumbnailSpec, offset time.Duration) (*FFmpeg, error) {
	probe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	mpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return &FFmpeg{ffprobe: probe, ffmpeg: mpeg, spec: spec, offset: offset}, nil
}

// Probe reads container and stream metadata for the file at path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if strings.TrimSpace(path) == "" {
		return VideoInfo{}, errors.New("video path is empty")
	}
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams", "-show_format",
		path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeOutput(out)
}

// Thumbnail grabs one frame at the configured offset, clamped into the video,
// and returns it as a cropped JPEG.
func (f *FFmpeg) Thumbnail(ctx context.Context, path string, duration time.Duration) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.ffmpeg, f.thumbnailArgs(path, duration)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	return stdout.Bytes(), nil
}

func (f *FFmpeg) thumbnailArgs(path string, duration time.Duration) []string {
	at := f.offset
	if duration > 0 && at >= duration {
		at = duration / 2
	}
	w, h := f.spec.Width, f.spec.Height
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", w, h, w, h)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", filter,
		"-q:v", strconv.Itoa(jpegQScale(f.spec.Quality)),
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"pipe:1",
	}
}

// jpegQScale maps a 1-100 quality onto ffmpeg's 2 (best) to 31 (worst) scale.
func jpegQScale(quality int) int {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return 2 + (100-quality)*29/100
}
