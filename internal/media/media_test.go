package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageProcessor(t *testing.T) {
	p := NewImageProcessor(ThumbnailSpec{Width: 40, Height: 30, Quality: 80})
	info, err := p.Process(bytes.NewReader(pngBytes(t, 320, 120)))
	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 120, info.Height)
	require.NotEmpty(t, info.Thumbnail)

	thumb, format, err := image.Decode(bytes.NewReader(info.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, thumb.Bounds().Dx())
	assert.Equal(t, 30, thumb.Bounds().Dy())
}

func TestImageProcessorRejectsGarbage(t *testing.T) {
	p := NewImageProcessor(ThumbnailSpec{Width: 10, Height: 10, Quality: 80})
	_, err := p.Process(strings.NewReader("definitely not an image"))
	assert.Error(t, err)
}

func TestParseProbeOutput(t *testing.T) {
	payload := []byte(`{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080}
  ],
  "format": {"duration": "5.500000"}
}`)
	info, err := parseProbeOutput(payload)
	require.NoError(t, err)
	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 5500*time.Millisecond, info.Duration)
}

func TestParseProbeOutputNoVideo(t *testing.T) {
	_, err := parseProbeOutput([]byte(`{"streams": [], "format": {}}`))
	assert.ErrorIs(t, err, ErrNoVideoStreams)

	_, err = parseProbeOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestProbeRejectsEmptyPath(t *testing.T) {
	f := &FFmpeg{}
	_, err := f.Probe(context.Background(), " ")
	assert.Error(t, err)
}

func TestLookupFFmpegMissingBinary(t *testing.T) {
	_, err := LookupFFmpeg("/nonexistent/ffprobe", "/nonexistent/ffmpeg", ThumbnailSpec{}, time.Second)
	assert.Error(t, err)
}

func TestThumbnailOffsetClampedToDuration(t *testing.T) {
	f := &FFmpeg{spec: ThumbnailSpec{Width: 200, Height: 200, Quality: 80}, offset: 2 * time.Second}

	args := f.thumbnailArgs("in.mp4", time.Second)
	assert.Equal(t, "0.500", argAfter(args, "-ss"))

	args = f.thumbnailArgs("in.mp4", 10*time.Second)
	assert.Equal(t, "2.000", argAfter(args, "-ss"))
	assert.Equal(t, "scale=200:200:force_original_aspect_ratio=increase,crop=200:200", argAfter(args, "-vf"))
}

func TestJPEGQScale(t *testing.T) {
	assert.Equal(t, 2, jpegQScale(100))
	assert.Equal(t, 30, jpegQScale(1))
	assert.Equal(t, jpegQScale(80), jpegQScale(0))
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
