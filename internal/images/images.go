// Package images validates, resizes, and stores uploaded post images.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/scribehq/scribe-backend/internal/blog"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxUploadBytes is the upload size ceiling.
	DefaultMaxUploadBytes = 10 << 20

	maxImageWidth = 800
	jpegQuality   = 80
)

// allowedTypes maps accepted MIME types to their canonical extension.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ValidationError reports an upload rejected before any bytes are stored.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validate rejects uploads whose MIME type is outside the allowlist or whose
// declared size exceeds maxBytes. It never touches the payload.
func Validate(mimeType string, size int64, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if _, ok := allowedTypes[strings.ToLower(mimeType)]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("unsupported image type %q (accepted: jpeg, png, webp, gif)", mimeType)}
	}
	if size > maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("image exceeds the %d MiB upload limit", maxBytes/(1<<20))}
	}
	return nil
}

// Processor decodes, downscales, and writes uploads to the uploads
// directory.
type Processor struct {
	dir      string
	baseURL  string
	maxBytes int64
	logger   *zap.SugaredLogger
}

// NewProcessor creates a processor writing into dir. baseURL prefixes the
// returned asset URLs, e.g. "/uploads".
func NewProcessor(dir, baseURL string, maxBytes int64, logger *zap.SugaredLogger) *Processor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Processor{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// MaxBytes returns the configured upload ceiling.
func (p *Processor) MaxBytes() int64 { return p.maxBytes }

// Process validates, decodes, downscales, and persists one upload, returning
// the stored asset. Images wider than 800px are scaled down preserving the
// aspect ratio, and everything is re-encoded as JPEG.
func (p *Processor) Process(src io.Reader, originalName, mimeType string, declaredSize int64) (*blog.ImageAsset, error) {
	if err := Validate(mimeType, declaredSize, p.maxBytes); err != nil {
		return nil, err
	}

	// The declared size came from the client; cap the actual read too.
	data, err := io.ReadAll(io.LimitReader(src, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, &ValidationError{Reason: fmt.Sprintf("image exceeds the %d MiB upload limit", p.maxBytes/(1<<20))}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Reason: "file is not a decodable image"}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > maxImageWidth {
		newH := h * maxImageWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxImageWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w = maxImageWidth
		h = newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	filename := storedFilename(originalName)

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, filename), buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}

	if p.logger != nil {
		p.logger.Infow("Image stored",
			"filename", filename,
			"bytes", buf.Len(),
			"width", w,
			"height", h,
		)
	}

	return &blog.ImageAsset{
		URL:  p.baseURL + "/" + filename,
		Size: int64(buf.Len()),
		Dimensions: blog.Dimensions{
			Width:  w,
			Height: h,
		},
	}, nil
}

// Delete removes a stored image. Missing files are not an error.
func (p *Processor) Delete(filename string) error {
	clean := filepath.Base(filename)
	if err := os.Remove(filepath.Join(p.dir, clean)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// storedFilename slugifies the original base name and appends a short unique
// suffix so repeated uploads of the same file never collide.
func storedFilename(originalName string) string {
	ext := filepath.Ext(originalName)
	base := blog.Slugify(strings.TrimSuffix(filepath.Base(originalName), ext))
	if base == "" {
		base = "image"
	}
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return base + "-" + suffix + ".jpg"
}
