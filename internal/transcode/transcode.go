// Package transcode delivers stored images, converting lossless PNGs to
// smaller JPEGs on the way out.
package transcode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/flowlite/sidecar/internal/logging"
	"github.com/flowlite/sidecar/internal/metrics"
	"github.com/flowlite/sidecar/internal/storage"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Ref identifies one stored image via the host's addressing scheme.
type Ref struct {
	Filename  string
	Subfolder string
	Type      string // output, input, temp
}

// Options control one fetch.
type Options struct {
	Compress bool
	Quality  int // clamped to [1,100]
	Delete   bool
}

// Result is the payload for one request. No state survives the call except
// the optional deletion of the original.
type Result struct {
	Bytes        []byte
	OriginalSize int64
	OutputSize   int64
	ContentType  string
	Converted    bool
	Deleted      bool
}

// Transcoder reads images from the store and optionally re-encodes them.
// It holds no per-call state and is safe for concurrent use.
type Transcoder struct {
	store *storage.Store
}

// New creates a transcoder over the given store.
func New(store *storage.Store) *Transcoder {
	return &Transcoder{store: store}
}

// Fetch resolves and reads the referenced image. PNG sources are re-encoded
// as JPEG at the requested quality when compression is on; anything else is
// returned unchanged. If the conversion fails the original bytes are served
// and the failure logged as a warning. The original is deleted only after a
// successful conversion, never on fallback or cancellation.
func (t *Transcoder) Fetch(ctx context.Context, ref Ref, opts Options) (*Result, error) {
	path, err := t.store.Resolve(ref.Filename, ref.Subfolder, ref.Type)
	if err != nil {
		return nil, err
	}
	data, err := t.store.Read(path)
	if err != nil {
		return nil, err
	}

	original := int64(len(data))
	result := &Result{
		Bytes:        data,
		OriginalSize: original,
		OutputSize:   original,
		ContentType:  sniffContentType(data),
	}

	if !opts.Compress || !isPNG(data, ref.Filename) {
		return result, nil
	}

	start := time.Now()
	encoded, err := toJPEG(data, clampQuality(opts.Quality))
	if err != nil {
		logging.Warn("jpeg conversion failed, serving original",
			zap.String("filename", ref.Filename),
			zap.Error(err))
		return result, nil
	}
	metrics.RecordTranscode(time.Since(start))

	if err := ctx.Err(); err != nil {
		// Request aborted mid-flight; leave the original alone.
		return nil, err
	}

	result.Bytes = encoded
	result.OutputSize = int64(len(encoded))
	result.ContentType = "image/jpeg"
	result.Converted = true

	if opts.Delete {
		if err := t.store.Delete(path); err != nil {
			logging.Warn("failed to delete original after transcode",
				zap.String("filename", ref.Filename),
				zap.Error(err))
		} else {
			result.Deleted = true
			metrics.RecordOriginalDeleted()
		}
	}

	logging.Info("image transcoded",
		zap.String("filename", ref.Filename),
		zap.Int64("original_bytes", result.OriginalSize),
		zap.Int64("output_bytes", result.OutputSize),
		zap.Bool("deleted", result.Deleted))
	return result, nil
}

// toJPEG decodes a lossless image, flattens any transparency onto an opaque
// white background, and encodes it as JPEG at the given quality.
func toJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isPNG(data []byte, filename string) bool {
	return bytes.HasPrefix(data, pngSignature) ||
		strings.HasSuffix(strings.ToLower(filename), ".png")
}

func sniffContentType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return "image/png"
	case len(data) > 2 && data[0] == 0xff && data[1] == 0xd8:
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case len(data) > 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
