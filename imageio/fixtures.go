package imageio

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Square intensities, by quadrant
const (
	TopLeft     = 80
	TopRight    = 190
	BottomLeft  = 140
	BottomRight = 230
)

// Squares returns the four block test image on an M x N interior grid,
// boundary included. Each block spans N/2+1 rows and M/2+1 columns from its
// corner; for odd M or N the centre line between blocks stays at zero.
func Squares(M, N int) []float64 {
	nx, ny := M+2, N+2
	u := make([]float64, nx*ny)
	bw, bh := M/2+1, N/2+1
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			top, bottom := j < bh, j >= ny-bh
			left, right := i < bw, i >= nx-bw
			k := j*nx + i
			switch {
			case top && left:
				u[k] = TopLeft
			case top && right:
				u[k] = TopRight
			case bottom && left:
				u[k] = BottomLeft
			case bottom && right:
				u[k] = BottomRight
			}
		}
	}
	return u
}

// AddNoise adds uniform integer noise in [-scale, scale) to every interior
// node of u in place. The generator is owned by the caller.
func AddNoise(u []float64, M, N, scale int, rng *rand.Rand) []float64 {
	if scale < 1 {
		return u
	}
	nx := M + 2
	for j := 1; j <= N; j++ {
		for i := 1; i <= M; i++ {
			u[j*nx+i] += float64(rng.Intn(2*scale) - scale)
		}
	}
	return u
}

// AddNoiseChannels applies AddNoise independently to every column of u
func AddNoiseChannels(u *mat.Dense, M, N, scale int, rng *rand.Rand) *mat.Dense {
	_, C := u.Dims()
	for c := 0; c < C; c++ {
		col := mat.Col(nil, c, u)
		u.SetCol(c, AddNoise(col, M, N, scale, rng))
	}
	return u
}

// RandomSquares returns the four block image with interior noise
func RandomSquares(M, N, scale int, rng *rand.Rand) []float64 {
	return AddNoise(Squares(M, N), M, N, scale, rng)
}

// Checkerboard returns the four block image replicated into C channels
func Checkerboard(M, N, C int) *mat.Dense {
	sq := Squares(M, N)
	u := mat.NewDense(len(sq), C, nil)
	for c := 0; c < C; c++ {
		u.SetCol(c, sq)
	}
	return u
}
