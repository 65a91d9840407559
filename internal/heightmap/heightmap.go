// Package heightmap converts displace.bin terrain heightmaps (square grids of
// little-endian float32 heights) to 16-bit raw or PNG images and back.
//
// Converting normalizes heights into 0..65535 and records the original range
// in a Metadata sidecar; reversing needs that sidecar to restore heights.
package heightmap

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	appErrors "dbconv/internal/errors"
)

// Format is an output image format.
type Format string

const (
	FormatRaw Format = "raw"
	FormatPNG Format = "png"
)

const maxLevel = 0xFFFF

// ValidSizes are the supported map edge lengths.
var ValidSizes = []int{512, 1024}

var (
	// ErrNot16Bit means a raw file has an odd byte count.
	ErrNot16Bit = errors.New("raw data is not 16-bit")
	// ErrNotGray16 means a PNG is not 16-bit grayscale.
	ErrNotGray16 = errors.New("png is not 16-bit grayscale")
	// ErrEmpty means an input carries no samples.
	ErrEmpty = errors.New("input contains no data")
)

// ParseFormat accepts "raw" or "png" in any case, with or without a dot.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")) {
	case FormatRaw:
		return FormatRaw, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", appErrors.New(appErrors.CodeInvalidInput, fmt.Sprintf("unsupported format %q (use raw or png)", s), nil)
	}
}

// ValidSize reports whether size is a supported map edge length.
func ValidSize(size int) bool {
	for _, s := range ValidSizes {
		if s == size {
			return true
		}
	}
	return false
}

// Metadata is the height range a normalized image was produced from.
type Metadata struct {
	Min   float64 `json:"Min"`
	Max   float64 `json:"Max"`
	Delta float64 `json:"Delta"`
}

// Validate rejects NaN values and an all-zero range.
func (m Metadata) Validate() error {
	if math.IsNaN(m.Min) || math.IsNaN(m.Max) || math.IsNaN(m.Delta) {
		return appErrors.New(appErrors.CodeInvalidInput, "metadata contains NaN", nil)
	}
	if isZero(m.Min) && isZero(m.Max) && isZero(m.Delta) {
		return appErrors.New(appErrors.CodeInvalidInput, "metadata Min, Max and Delta are all zero", nil)
	}
	return nil
}

func isZero(x float64) bool {
	return math.Abs(x) < 1e-7
}

// Decode reads a size x size displace.bin. The input must hold exactly
// size*size float32 values.
func Decode(r io.Reader, size int) ([]float32, error) {
	if !ValidSize(size) {
		return nil, appErrors.New(appErrors.CodeInvalidSize, fmt.Sprintf("map size %d is not one of %v", size, ValidSizes), nil)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "read heightmap", err)
	}
	want := size * size * 4
	if len(data) != want {
		return nil, appErrors.New(appErrors.CodeInvalidSize,
			fmt.Sprintf("expected %d bytes for a %dx%d map, got %d; check the map size", want, size, size, len(data)), nil)
	}
	samples := make([]float32, size*size)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, samples); err != nil {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "decode heightmap", err)
	}
	return samples, nil
}

// Encode writes samples as little-endian float32 values.
func Encode(w io.Writer, samples []float32) error {
	return binary.Write(w, binary.LittleEndian, samples)
}

// Normalize maps samples onto 0..65535. A flat map (zero range) encodes as
// all zeros.
func Normalize(samples []float32) ([]uint16, Metadata) {
	if len(samples) == 0 {
		return nil, Metadata{}
	}
	lo, hi := float64(samples[0]), float64(samples[0])
	for _, s := range samples[1:] {
		v := float64(s)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	meta := Metadata{Min: lo, Max: hi, Delta: hi - lo}

	px := make([]uint16, len(samples))
	if meta.Delta == 0 {
		return px, meta
	}
	for i, s := range samples {
		px[i] = uint16((float64(s) - lo) / meta.Delta * maxLevel)
	}
	return px, meta
}

// Denormalize restores heights from normalized pixels. A zero Delta restores
// a flat map at Min.
func Denormalize(px []uint16, meta Metadata) ([]float32, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(px) == 0 {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "no pixels to restore", ErrEmpty)
	}
	out := make([]float32, len(px))
	for i, p := range px {
		if meta.Delta == 0 {
			out[i] = float32(meta.Min)
			continue
		}
		out[i] = float32(float64(p)/maxLevel*meta.Delta + meta.Min)
	}
	return out, nil
}

// WriteRaw writes pixels as little-endian uint16 values.
func WriteRaw(w io.Writer, px []uint16) error {
	return binary.Write(w, binary.LittleEndian, px)
}

// ReadRaw reads little-endian uint16 pixels.
func ReadRaw(r io.Reader) ([]uint16, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "read raw image", err)
	}
	if len(data) == 0 {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "raw image is empty", ErrEmpty)
	}
	if len(data)%2 != 0 {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "raw image has incomplete 16-bit data", ErrNot16Bit)
	}
	px := make([]uint16, len(data)/2)
	for i := range px {
		px[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return px, nil
}

// WritePNG writes pixels as a size x size 16-bit grayscale PNG.
func WritePNG(w io.Writer, px []uint16, size int) error {
	if len(px) != size*size {
		return appErrors.New(appErrors.CodeInvalidSize, fmt.Sprintf("%d pixels do not form a %dx%d image", len(px), size, size), nil)
	}
	img := image.NewGray16(image.Rect(0, 0, size, size))
	for i, p := range px {
		img.SetGray16(i%size, i/size, color.Gray16{Y: p})
	}
	return png.Encode(w, img)
}

// ReadPNG reads a 16-bit grayscale PNG in row-major order.
func ReadPNG(r io.Reader) ([]uint16, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "decode png", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "PNG must be 16-bit grayscale", ErrNotGray16)
	}
	b := gray.Bounds()
	px := make([]uint16, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px = append(px, gray.Gray16At(x, y).Y)
		}
	}
	if len(px) == 0 {
		return nil, appErrors.New(appErrors.CodeInvalidInput, "png is empty", ErrEmpty)
	}
	return px, nil
}

// WriteMetadata writes the sidecar JSON.
func WriteMetadata(w io.Writer, meta Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// ReadMetadata parses a sidecar; Min, Max and Delta must all be present.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var raw struct {
		Min   *float64 `json:"Min"`
		Max   *float64 `json:"Max"`
		Delta *float64 `json:"Delta"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Metadata{}, appErrors.New(appErrors.CodeInvalidInput, "metadata is not valid JSON", err)
	}
	if raw.Min == nil || raw.Max == nil || raw.Delta == nil {
		return Metadata{}, appErrors.New(appErrors.CodeInvalidInput, "metadata must contain Min, Max and Delta", nil)
	}
	meta := Metadata{Min: *raw.Min, Max: *raw.Max, Delta: *raw.Delta}
	return meta, meta.Validate()
}
