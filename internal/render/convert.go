package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"io"
	"math"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

const (
	PanelWidth  = 960
	PanelHeight = 540
)

// Letterbox sizes offline conversions for the full panel, status bar included.
type Letterbox struct {
	Width  int
	Height int
	// MaxInputPixels caps the source size; zero means DefaultMaxInputPixels.
	MaxInputPixels int64
}

// DefaultLetterbox covers the whole 960x540 panel.
var DefaultLetterbox = Letterbox{Width: PanelWidth, Height: PanelHeight}

// Convert4Bit letterboxes src onto a black panel-sized canvas and packs it as
// 4-bit grayscale, two pixels per byte, high nibble first.
func (l Letterbox) Convert4Bit(src io.Reader) ([]byte, error) {
	canvas, err := l.place(src, 0)
	if err != nil {
		return nil, err
	}
	w, h := l.Width, l.Height
	stride := (w + 1) / 2
	out := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+w]
		for x := 0; x < w; x += 2 {
			hi := row[x] >> 4
			var lo byte
			if x+1 < w {
				lo = row[x+1] >> 4
			}
			out[y*stride+x/2] = hi<<4 | lo
		}
	}
	return out, nil
}

// ConvertBMP letterboxes src onto a white panel-sized grayscale canvas and
// writes it as BMP.
func (l Letterbox) ConvertBMP(src io.Reader, dst io.Writer) error {
	canvas, err := l.place(src, 255)
	if err != nil {
		return err
	}
	if err := bmp.Encode(dst, canvas); err != nil {
		return fmt.Errorf("encode bmp: %w", err)
	}
	return nil
}

// ConvertBMPBytes is ConvertBMP into a buffer.
func (l Letterbox) ConvertBMPBytes(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if err := l.ConvertBMP(src, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// place shrinks src to fit inside the canvas, keeping its aspect ratio, and
// centers it on a background of the given gray level. Sources are never
// enlarged.
func (l Letterbox) place(src io.Reader, background uint8) (*image.Gray, error) {
	if l.Width <= 0 || l.Height <= 0 {
		return nil, fmt.Errorf("letterbox size %dx%d must be positive", l.Width, l.Height)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err := checkPixels(header, l.MaxInputPixels); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)

	w, h := fitWithin(b.Dx(), b.Dy(), l.Width, l.Height)
	canvas := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Gray{Y: background}), image.Point{}, draw.Src)

	x0 := (l.Width - w) / 2
	y0 := (l.Height - h) / 2
	target := image.Rect(x0, y0, x0+w, y0+h)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(canvas, target, gray, image.Point{}, draw.Src)
	} else {
		draw.CatmullRom.Scale(canvas, target, gray, gray.Bounds(), draw.Src, nil)
	}
	return canvas, nil
}

func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	if nw > maxW {
		nw = maxW
	}
	if nh > maxH {
		nh = maxH
	}
	return nw, nh
}
