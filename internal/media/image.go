// Package media extracts metadata and thumbnails from uploaded images and
// videos.
package media

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the WebP decoder with image.Decode
)

// ThumbnailSpec fixes the size and JPEG quality of generated thumbnails.
type ThumbnailSpec struct {
	Width   int
	Height  int
	Quality int
}

// ImageInfo is the outcome of inspecting one image.
type ImageInfo struct {
	Width     int
	Height    int
	Thumbnail []byte
}

// ImageProcessor decodes images and renders center-cropped JPEG thumbnails.
type ImageProcessor struct {
	spec ThumbnailSpec
}

func NewImageProcessor(spec ThumbnailSpec) *ImageProcessor {
	return &ImageProcessor{spec: spec}
}

// Process decodes r. EXIF orientation is applied so reported dimensions match
// what a browser displays.
func (p *ImageProcessor) Process(r io.Reader) (ImageInfo, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	info := ImageInfo{Width: b.Dx(), Height: b.Dy()}

	thumb := imaging.Fill(img, p.spec.Width, p.spec.Height, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(p.spec.Quality)); err != nil {
		return info, fmt.Errorf("encode thumbnail: %w", err)
	}
	info.Thumbnail = buf.Bytes()
	return info, nil
}
