package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height, format
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{2000, 1000, 1024, 1024, 512},
		{1000, 2000, 1024, 512, 1024},
		{800, 600, 1024, 800, 600},
		{1024, 1024, 1024, 1024, 1024},
		{5000, 1, 300, 300, 1},
		{640, 480, 0, 640, 480},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.max)
		assert.Equal(t, [2]int{tt.wantW, tt.wantH}, [2]int{w, h}, "Fit(%d, %d, %d)", tt.w, tt.h, tt.max)
	}
}

func TestNormalize_ShrinksPNGAndKeepsFormat(t *testing.T) {
	res, err := Normalize(encodePNG(t, gradient(2000, 1000)), PhotoMaxDim)
	require.NoError(t, err)

	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, ".png", res.Ext)
	w, h, format := decodedSize(t, res.Data)
	assert.Equal(t, "png", format)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 512, h)
}

func TestNormalize_JPEGNotEnlarged(t *testing.T) {
	res, err := Normalize(encodeJPEG(t, gradient(200, 100)), PhotoMaxDim)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", res.ContentType)
	w, h, format := decodedSize(t, res.Data)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, [2]int{200, 100}, [2]int{w, h})
}

func TestNormalize_AvatarPortrait(t *testing.T) {
	res, err := Normalize(encodeJPEG(t, gradient(600, 1200)), AvatarMaxDim)
	require.NoError(t, err)

	assert.Equal(t, 150, res.Width)
	assert.Equal(t, 300, res.Height)
}

func TestNormalize_GIFBecomesPNG(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 50, 40), palette.Plan9)
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, pal, nil))

	res, err := Normalize(buf.Bytes(), PhotoMaxDim)
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
}

func TestNormalize_PNGKeepsTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10)) // fully transparent
	res, err := Normalize(encodePNG(t, img), PhotoMaxDim)
	require.NoError(t, err)

	out, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	_, _, _, a := out.At(5, 5).RGBA()
	assert.Zero(t, a)
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"truncated": encodePNG(t, gradient(64, 64))[:40],
	} {
		_, err := Normalize(data, PhotoMaxDim)
		assert.True(t, errors.Is(err, ErrUnsupported), "%s: err = %v", name, err)
	}
}
