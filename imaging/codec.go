// Package imaging validates, downscales and PNG-encodes skin images so the
// encoded payload fits a byte budget before it is framed for transfer.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/KendoTarakate/skin/iox"
	"github.com/KendoTarakate/skin/log"
)

// Dimension constraints for skin images.
const (
	// MinDimension is the smallest accepted side length.
	MinDimension = 64
	// MaxDimension is the largest accepted side length.
	MaxDimension = 512
	// DimensionStep is the required side length multiple.
	DimensionStep = 64
	// DefaultMaxDimension is the default target side for multiplayer transfer.
	DefaultMaxDimension = 512
	// DefaultMaxBytes is the default encoded size budget.
	DefaultMaxBytes = 100000
)

var (
	// ErrInvalidDimensions is returned for images that are not square or
	// whose side is outside [MinDimension, MaxDimension] or not a multiple
	// of DimensionStep.
	ErrInvalidDimensions = errors.New("invalid skin dimensions")

	// ErrDecodeFailure is returned when a payload is not a decodable PNG.
	ErrDecodeFailure = errors.New("skin decode failed")
)

// Result is the outcome of Encode.
type Result struct {
	// Payload is the encoded PNG.
	Payload []byte
	// Side is the final width and height.
	Side int
	// OriginalSide is the side of the input image.
	OriginalSide int
	// OverBudget is true when the payload still exceeds maxBytes at MinDimension.
	OverBudget bool
}

// Codec encodes and decodes skin images.
type Codec struct {
	logger  *log.Logger
	encoder png.Encoder
}

// NewCodec creates a codec. A nil logger discards output.
func NewCodec(logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.Nop()
	}
	return &Codec{
		logger:  logger,
		encoder: png.Encoder{CompressionLevel: png.BestCompression},
	}
}

// Validate checks the shape constraints and returns the side length.
func Validate(img image.Image) (int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != h {
		return 0, fmt.Errorf("%w: %dx%d is not square", ErrInvalidDimensions, w, h)
	}
	if w < MinDimension || w > MaxDimension {
		return 0, fmt.Errorf("%w: side %d outside [%d, %d]", ErrInvalidDimensions, w, MinDimension, MaxDimension)
	}
	if w%DimensionStep != 0 {
		return 0, fmt.Errorf("%w: side %d is not a multiple of %d", ErrInvalidDimensions, w, DimensionStep)
	}
	return w, nil
}

// Encode validates img, downscales it to maxDimension if larger, and encodes
// it as PNG. While the encoding exceeds maxBytes and the side is above
// MinDimension, the side is halved and the image re-encoded.
//
// If the payload is still over budget at MinDimension, Encode returns the
// best-effort payload with Result.OverBudget set and logs a warning.
//
// Returns error if:
//   - img fails Validate (wraps ErrInvalidDimensions)
//   - maxDimension is below MinDimension or maxBytes is not positive
//   - PNG encoding fails
func (c *Codec) Encode(img image.Image, maxDimension, maxBytes int) (*Result, error) {
	side, err := Validate(img)
	if err != nil {
		return nil, err
	}
	if maxDimension < MinDimension {
		return nil, fmt.Errorf("max dimension %d below minimum %d", maxDimension, MinDimension)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}

	res := &Result{OriginalSide: side}
	current := img
	if side > maxDimension {
		current = scale(img, maxDimension)
		side = maxDimension
	}

	payload, err := c.encode(current)
	if err != nil {
		return nil, err
	}

	for len(payload) > maxBytes && side > MinDimension {
		side = max(side/2, MinDimension)
		current = scale(img, side)
		if payload, err = c.encode(current); err != nil {
			return nil, err
		}
	}

	res.Payload = payload
	res.Side = side
	res.OverBudget = len(payload) > maxBytes

	fields := map[string]any{
		"original_side": res.OriginalSide,
		"side":          res.Side,
		"bytes":         len(payload),
		"max_bytes":     maxBytes,
	}
	if res.OverBudget {
		c.logger.Warn("encoded skin exceeds size budget at minimum dimension", fields)
	} else {
		c.logger.Info("encoded skin", fields)
	}

	return res, nil
}

// Decode decodes a PNG payload.
// Returns an error wrapping ErrDecodeFailure if the payload is not a valid PNG.
func (c *Codec) Decode(payload []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return img, nil
}

// LoadFile reads and decodes a PNG file from disk.
func (c *Codec) LoadFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open skin file: %w", err)
	}
	defer iox.DiscardClose(f)

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, path, err)
	}
	return img, nil
}

func (c *Codec) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// scale resamples src to side x side with bilinear interpolation.
func scale(src image.Image, side int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, side, side))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
