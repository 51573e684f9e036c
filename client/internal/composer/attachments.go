package composer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"regexp"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/itchan-dev/pairchat/shared/domain"
)

// PreviewMaxSize bounds the longer side of a thumbnail, in pixels.
const PreviewMaxSize = 256

// maxPreviewPixels refuses to decode images whose header claims more pixels than this.
const maxPreviewPixels = 40_000_000

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename replaces every character outside [a-zA-Z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// UploadPath is the object key of an attachment: "{messageId}/{epochMillis}-{name}".
func UploadPath(messageID domain.MessageId, at time.Time, name string) string {
	return fmt.Sprintf("%s/%d-%s", messageID, at.UnixMilli(), SanitizeFilename(name))
}

// Thumbnail decodes an image and returns a PNG scaled to fit PreviewMaxSize. The reader is
// rewound before returning.
func Thumbnail(r io.ReadSeeker) ([]byte, error) {
	defer r.Seek(0, io.SeekStart)

	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image dimensions: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPreviewPixels {
		return nil, fmt.Errorf("image too large for a preview: %dx%d", cfg.Width, cfg.Height)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}

	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), PreviewMaxSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h down so that neither side exceeds max. Smaller images are kept as is.
func fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, maxInt(1, h*max/w)
	}
	return maxInt(1, w*max/h), max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
