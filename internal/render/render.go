// Package render turns raster photos into bitmaps an e-paper panel can show.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

var (
	// ErrUnsupportedFormat is returned for bytes that are not a decodable JPEG or PNG.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrSourceNotFound is returned when the source file cannot be read.
	ErrSourceNotFound = errors.New("image source not found")
	// ErrTooManyPixels is returned when the declared dimensions exceed the pixel limit.
	ErrTooManyPixels = errors.New("input image exceeds pixel limit")
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

const (
	DefaultWidth          = 960
	DefaultHeight         = 480
	DefaultThreshold      = 128
	DefaultLowPercentile  = 1.0
	DefaultHighPercentile = 99.0
	// DefaultMaxInputPixels matches the decoder limit common to image libraries.
	DefaultMaxInputPixels = 0x3FFF * 0x3FFF
)

// Config describes the main drawing area of the panel.
type Config struct {
	Width     int
	Height    int
	Threshold uint8
	// LowPercentile and HighPercentile bound the luminance stretch.
	LowPercentile  float64
	HighPercentile float64
	// MaxInputPixels caps width*height of a source before it is decoded.
	MaxInputPixels int64
}

func (c *Config) applyDefaults() {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.LowPercentile <= 0 && c.HighPercentile <= 0 {
		c.LowPercentile = DefaultLowPercentile
		c.HighPercentile = DefaultHighPercentile
	}
	if c.MaxInputPixels <= 0 {
		c.MaxInputPixels = DefaultMaxInputPixels
	}
}

// Pipeline renders photos to one byte per pixel, 0 (black) or 255 (white),
// row-major, exactly Width*Height bytes long.
type Pipeline struct {
	cfg    Config
	logger zerolog.Logger
}

func NewPipeline(cfg Config, logger zerolog.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:    cfg,
		logger: logger.With().Str("component", "render").Logger(),
	}
}

// Size returns the output dimensions.
func (p *Pipeline) Size() (int, int) {
	return p.cfg.Width, p.cfg.Height
}

// DetectType sniffs the MIME type of src.
func DetectType(src []byte) string {
	return http.DetectContentType(src)
}

// RenderFile reads path and renders it.
func (p *Pipeline) RenderFile(ctx context.Context, path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", path, ErrSourceNotFound, err)
	}
	return p.Render(ctx, src)
}

// Render decodes src, stretches it over the whole area, normalizes contrast
// and dithers it to black and white.
func (p *Pipeline) Render(ctx context.Context, src []byte) ([]byte, error) {
	start := time.Now()
	out, err := p.render(ctx, src)
	if err != nil {
		renderFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	renderDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

func (p *Pipeline) render(ctx context.Context, src []byte) ([]byte, error) {
	img, err := decode(src, p.cfg.MaxInputPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := p.cfg.Width, p.cfg.Height
	scaled := fill(img, w, h)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lum := luminance(scaled)
	normalize(lum, p.cfg.LowPercentile, p.cfg.HighPercentile)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := dither(lum, w, h, float32(p.cfg.Threshold))
	b := img.Bounds()
	p.logger.Debug().
		Int("src_width", b.Dx()).
		Int("src_height", b.Dy()).
		Int("bytes", len(out)).
		Msg("image rendered")
	return out, nil
}

// decode reads the header first so a small file declaring a huge canvas is
// refused before any pixel buffer is allocated.
func decode(src []byte, maxPixels int64) (image.Image, error) {
	var (
		decodeConfig func(io.Reader) (image.Config, error)
		decodeImage  func(io.Reader) (image.Image, error)
	)
	switch mime := DetectType(src); mime {
	case MIMEJPEG:
		decodeConfig, decodeImage = jpeg.DecodeConfig, jpeg.Decode
	case MIMEPNG:
		decodeConfig, decodeImage = png.DecodeConfig, png.Decode
	default:
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, mime)
	}

	header, err := decodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err := checkPixels(header, maxPixels); err != nil {
		return nil, err
	}

	img, err := decodeImage(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	return img, nil
}

func checkPixels(header image.Config, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxInputPixels
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > maxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooManyPixels, header.Width, header.Height)
	}
	return nil
}

// fill scales img to exactly w x h ignoring aspect ratio. Transparent areas
// come out white.
func fill(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func luminance(img *image.RGBA) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			out = append(out, 0.299*float32(px[0])+0.587*float32(px[1])+0.114*float32(px[2]))
		}
	}
	return out
}

// normalize stretches lum in place so the low and high percentiles map to
// 0 and 255. A flat image is left alone.
func normalize(lum []float32, lowPct, highPct float64) {
	if len(lum) == 0 {
		return
	}
	var hist [256]int
	for _, v := range lum {
		hist[clampByte(v)]++
	}
	lo, hi := percentiles(&hist, len(lum), lowPct, highPct)
	if hi <= lo {
		return
	}
	scale := 255 / float32(hi-lo)
	for i, v := range lum {
		s := (v - float32(lo)) * scale
		switch {
		case s < 0:
			s = 0
		case s > 255:
			s = 255
		}
		lum[i] = s
	}
}

func percentiles(hist *[256]int, total int, lowPct, highPct float64) (int, int) {
	loTarget := int(float64(total) * lowPct / 100)
	hiTarget := int(math.Ceil(float64(total) * highPct / 100))
	lo, hi := -1, 255
	cum := 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if lo < 0 && cum > loTarget {
			lo = v
		}
		if cum >= hiTarget {
			hi = v
			break
		}
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

// dither applies Floyd-Steinberg error diffusion, consuming lum.
func dither(lum []float32, w, h int, threshold float32) []byte {
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			old := lum[i]
			var level float32
			if old >= threshold {
				level = 255
				out[i] = 255
			}
			e := old - level
			if e == 0 {
				continue
			}
			if x+1 < w {
				lum[i+1] += e * 7 / 16
			}
			if y+1 < h {
				if x > 0 {
					lum[i+w-1] += e * 3 / 16
				}
				lum[i+w] += e * 5 / 16
				if x+1 < w {
					lum[i+w+1] += e * 1 / 16
				}
			}
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrTooManyPixels):
		return "too_many_pixels"
	case errors.Is(err, ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
