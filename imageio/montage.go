package imageio

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"
)

// ProgressionIndices picks six levels out of T for a progression sheet:
// the first, four evenly spaced ones and the last
func ProgressionIndices(T int) []int {
	skip := T / 5
	return []int{0, skip, 2 * skip, 3 * skip, 4 * skip, T - 1}
}

// Montage lays frames out on a grid of cols columns, each frame scaled by
// an integer zoom with nearest neighbour sampling, separated by gap pixels
func Montage(frames []image.Image, cols, zoom, gap int) *image.RGBA {
	if len(frames) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	if cols < 1 {
		cols = 1
	}
	if zoom < 1 {
		zoom = 1
	}
	b := frames[0].Bounds()
	fw, fh := b.Dx()*zoom, b.Dy()*zoom
	rows := (len(frames) + cols - 1) / cols

	out := image.NewRGBA(image.Rect(0, 0, cols*fw+(cols+1)*gap, rows*fh+(rows+1)*gap))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for n, f := range frames {
		x0 := gap + (n%cols)*(fw+gap)
		y0 := gap + (n/cols)*(fh+gap)
		draw.NearestNeighbor.Scale(out, image.Rect(x0, y0, x0+fw, y0+fh), f, f.Bounds(), draw.Src, nil)
	}
	return out
}

// SaveName builds the output path for a run, encoding the grid, step count,
// step size and diffusivity into the file name
func SaveName(dir, imageName string, width, height, T int, dt float64, funcName string) string {
	name := fmt.Sprintf("%dx%d_%d_%s_%s-%s", width, height, T,
		strconv.FormatFloat(dt, 'g', -1, 64), funcName, filepath.Base(imageName))
	return filepath.Join(dir, name)
}
