package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

// Image is a decoded picture resampled onto a node grid. Pixel (x, y) of
// channel c is Data.At(y*Width+x, c), the same row-major flattening the
// diffusion operators use.
type Image struct {
	Width, Height int
	Channels      int        // 1 for grayscale, 3 for RGB
	Data          *mat.Dense // [Width*Height × Channels], values in [0, 255]
}

// Load decodes a png or jpeg file and resamples it to width x height with
// bilinear interpolation. Grayscale sources give one channel, anything
// else gives three.
func Load(path string, width, height int) (im *Image, err error) {
	if width < 1 || height < 1 {
		err = fmt.Errorf("invalid target size %dx%d", width, height)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		err = fmt.Errorf("failed to decode %s: %w", path, err)
		return
	}
	return FromImage(src, width, height, isGray(src.ColorModel())), nil
}

func isGray(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}

// FromImage resamples src to width x height and flattens it
func FromImage(src image.Image, width, height int, gray bool) *Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if sb := src.Bounds(); sb.Dx() == width && sb.Dy() == height {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	}

	channels := 3
	if gray {
		channels = 1
	}
	im := &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     mat.NewDense(width*height, channels, nil),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			k := y*width + x
			px := dst.RGBAAt(x, y)
			if gray {
				im.Data.Set(k, 0, float64(px.R))
				continue
			}
			im.Data.Set(k, 0, float64(px.R))
			im.Data.Set(k, 1, float64(px.G))
			im.Data.Set(k, 2, float64(px.B))
		}
	}
	return im
}

// Vector returns a copy of channel c as a flat state vector
func (im *Image) Vector(c int) []float64 {
	return mat.Col(nil, c, im.Data)
}

// Gray returns the luminance of the image as a flat state vector
func (im *Image) Gray() []float64 {
	if im.Channels == 1 {
		return im.Vector(0)
	}
	u := make([]float64, im.Width*im.Height)
	for k := range u {
		// ITU-R 601 luma, matching color.GrayModel
		u[k] = 0.299*im.Data.At(k, 0) + 0.587*im.Data.At(k, 1) + 0.114*im.Data.At(k, 2)
	}
	return u
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// ToGray converts a flat state vector to an 8 bit grayscale image,
// clamping to [0, 255]
func ToGray(u []float64, width, height int) *image.Gray {
	im := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			im.SetGray(x, y, color.Gray{Y: toByte(u[y*width+x])})
		}
	}
	return im
}

// ToRGBA converts a [K × 3] state to an RGBA image, clamping to [0, 255]
func ToRGBA(u mat.Matrix, width, height int) *image.RGBA {
	im := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			k := y*width + x
			im.SetRGBA(x, y, color.RGBA{
				R: toByte(u.At(k, 0)),
				G: toByte(u.At(k, 1)),
				B: toByte(u.At(k, 2)),
				A: 255,
			})
		}
	}
	return im
}

// Save writes img as a png file
func Save(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}
