// Package imaging handles inline image payloads: data URLs, region crops of a
// rendered page and PNG re-encoding.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration
)

var (
	ErrInvalidDataURL = errors.New("invalid data URL")
	ErrEmptyRegion    = errors.New("crop region is empty")
)

// MaxEdge bounds the longer side of a cropped region sent to the model.
const MaxEdge = 2048

// DataURL is a decoded data: URL.
type DataURL struct {
	MIMEType string
	Data     []byte
}

func (d DataURL) String() string {
	return EncodeDataURL(d.MIMEType, d.Data)
}

func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a base64 data URL. A bare base64 string is accepted
// and given fallbackMIME.
func ParseDataURL(s, fallbackMIME string) (DataURL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DataURL{}, fmt.Errorf("%w: empty", ErrInvalidDataURL)
	}
	mimeType, payload := fallbackMIME, s
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return DataURL{}, fmt.Errorf("%w: missing comma", ErrInvalidDataURL)
		}
		if !strings.HasSuffix(header, ";base64") {
			return DataURL{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		payload = body
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURL{}, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if mimeType == "" {
		mimeType = fallbackMIME
	}
	return DataURL{MIMEType: mimeType, Data: data}, nil
}

// Rect is a selection in CSS pixels of the rendered page.
type Rect struct {
	X, Y, Width, Height float64
}

// DecodeImage decodes PNG, JPEG or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Crop copies the region r of src, where src was rendered at pixelRatio
// device pixels per CSS pixel. The result is downscaled when its longer edge
// exceeds MaxEdge.
func Crop(src image.Image, r Rect, pixelRatio float64) (image.Image, error) {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	b := src.Bounds()
	region := image.Rect(
		b.Min.X+int(math.Floor(r.X*pixelRatio)),
		b.Min.Y+int(math.Floor(r.Y*pixelRatio)),
		b.Min.X+int(math.Ceil((r.X+r.Width)*pixelRatio)),
		b.Min.Y+int(math.Ceil((r.Y+r.Height)*pixelRatio)),
	).Intersect(b)
	if region.Empty() {
		return nil, ErrEmptyRegion
	}

	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Copy(dst, image.Point{}, src, region, draw.Src, nil)

	w, h := region.Dx(), region.Dy()
	if w <= MaxEdge && h <= MaxEdge {
		return dst, nil
	}
	ratio := float64(MaxEdge) / float64(max(w, h))
	scaled := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(w)*ratio)), max(1, int(float64(h)*ratio))))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), dst, dst.Bounds(), draw.Src, nil)
	return scaled, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// CropDataURL crops a region out of an encoded page image and returns it as a
// PNG data URL.
func CropDataURL(page DataURL, r Rect, pixelRatio float64) (string, error) {
	img, err := DecodeImage(page.Data)
	if err != nil {
		return "", err
	}
	cropped, err := Crop(img, r, pixelRatio)
	if err != nil {
		return "", err
	}
	out, err := EncodePNG(cropped)
	if err != nil {
		return "", err
	}
	return EncodeDataURL("image/png", out), nil
}
