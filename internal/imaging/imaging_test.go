package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerPage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestParseDataURL(t *testing.T) {
	d, err := ParseDataURL(EncodeDataURL("image/png", []byte("abc")), "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MIMEType)
	assert.Equal(t, []byte("abc"), d.Data)

	bare, err := ParseDataURL("YWJj", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, DataURL{MIMEType: "application/pdf", Data: []byte("abc")}, bare)

	for _, bad := range []string{"", "data:image/png;base64", "data:text/plain,hello", "data:image/png;base64,@@@"} {
		_, err := ParseDataURL(bad, "image/png")
		assert.ErrorIs(t, err, ErrInvalidDataURL, bad)
	}
}

func TestCropHonorsPixelRatio(t *testing.T) {
	page := checkerPage(200, 100)

	cropped, err := Crop(page, Rect{X: 40, Y: 10, Width: 30, Height: 20}, 2)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 60, 40), cropped.Bounds())
	// x 80..140 straddles the colour boundary at 100
	assert.Equal(t, color.RGBA{B: 255, A: 255}, cropped.At(0, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, cropped.At(59, 39))
}

func TestCropClipsToBounds(t *testing.T) {
	cropped, err := Crop(checkerPage(50, 50), Rect{X: 40, Y: 40, Width: 30, Height: 30}, 1)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), cropped.Bounds())

	_, err = Crop(checkerPage(50, 50), Rect{X: 60, Y: 60, Width: 5, Height: 5}, 1)
	assert.ErrorIs(t, err, ErrEmptyRegion)
}

func TestCropDownscalesLargeRegions(t *testing.T) {
	cropped, err := Crop(checkerPage(MaxEdge*2, 100), Rect{Width: MaxEdge * 2, Height: 100}, 1)
	require.NoError(t, err)
	assert.Equal(t, MaxEdge, cropped.Bounds().Dx())
	assert.Equal(t, 50, cropped.Bounds().Dy())
}

func TestCropDataURLRoundTrip(t *testing.T) {
	raw, err := EncodePNG(checkerPage(40, 40))
	require.NoError(t, err)

	out, err := CropDataURL(DataURL{MIMEType: "image/png", Data: raw}, Rect{X: 5, Y: 5, Width: 25, Height: 25}, 1)
	require.NoError(t, err)

	parsed, err := ParseDataURL(out, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", parsed.MIMEType)
	img, err := DecodeImage(parsed.Data)
	require.NoError(t, err)
	assert.Equal(t, 25, img.Bounds().Dx())
}
