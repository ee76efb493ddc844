// Package imaging re-encodes uploaded pictures so that neither side exceeds
// a bound. Entry photos use PhotoMaxDim, profile pictures AvatarMaxDim.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	PhotoMaxDim  = 1024
	AvatarMaxDim = 300

	// JPEGQuality is used for every JPEG the normalizer writes.
	JPEGQuality = 85

	// maxPixels guards against decompression bombs: the header is checked
	// before the pixel data is decoded.
	maxPixels = 50_000_000
)

// ErrUnsupported is returned for data that is not a JPEG, PNG, GIF or WebP
// image, or whose dimensions are unreasonable.
var ErrUnsupported = errors.New("imaging: unsupported or corrupt image")

// Result is a normalized image.
type Result struct {
	Data        []byte
	ContentType string // image/jpeg or image/png
	Ext         string // ".jpg" or ".png", for storage keys
	Width       int
	Height      int
}

// Normalize decodes data, shrinks it so both sides are at most maxDim while
// keeping the aspect ratio, and encodes it again. Images that already fit
// are re-encoded at their size and never enlarged. maxDim <= 0 disables
// scaling.
//
// PNG and GIF sources become PNG so transparency survives; everything else
// becomes JPEG at JPEGQuality on a white background.
func Normalize(data []byte, maxDim int) (*Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupported, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	w, h := Fit(src.Bounds().Dx(), src.Bounds().Dy(), maxDim)
	rect := image.Rect(0, 0, w, h)
	keepAlpha := format == "png" || format == "gif"

	dst := image.NewRGBA(rect)
	op := draw.Src
	if !keepAlpha {
		draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		op = draw.Over
	}
	draw.CatmullRom.Scale(dst, rect, src, src.Bounds(), op, nil)

	var buf bytes.Buffer
	res := &Result{Width: w, Height: h}
	if keepAlpha {
		err = png.Encode(&buf, dst)
		res.ContentType, res.Ext = "image/png", ".png"
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality})
		res.ContentType, res.Ext = "image/jpeg", ".jpg"
	}
	if err != nil {
		return nil, fmt.Errorf("imaging: encoding %s: %w", res.ContentType, err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

// Fit returns the size of a w×h image scaled down to fit in a maxDim
// square. Sizes never grow and never reach zero.
func Fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
