package integrator

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/anisodiff/grid"
	"gonum.org/v1/gonum/mat"
)

/*
bandSolver solves (I - c A) x = b for an assembled diffusion operator A.

Boundary rows of A are empty, so the boundary rows of I - cA are identity
rows and x_B = b_B. Substituting into the interior rows leaves

	(I - c A_II) x_I = b_I + c A_IB b_B

A_II is symmetric with non-positive eigenvalues for any non-negative
diffusivity, so I - cA_II is symmetric positive definite. Ordering the
interior unknowns row-major gives a half bandwidth of M (less when N = 1),
which is what the banded Cholesky factorization works on: O(M²N) per
factorization.
*/
type bandSolver struct {
	grid *grid.Grid
	n    int   // interior unknowns
	pos  []int // flat index -> interior position, -1 on the boundary

	chol mat.BandCholesky
	rhs  *mat.VecDense
	x    *mat.VecDense
}

func newBandSolver(g *grid.Grid) *bandSolver {
	s := &bandSolver{
		grid: g,
		n:    g.M * g.N,
		pos:  make([]int, g.K),
	}
	p := 0
	for k := range s.pos {
		if g.IsBoundary(k) {
			s.pos[k] = -1
			continue
		}
		s.pos[k] = p
		p++
	}
	s.rhs = mat.NewVecDense(s.n, nil)
	s.x = mat.NewVecDense(s.n, nil)
	return s
}

// solve writes the solution of (I - c A) x = b into dst
func (s *bandSolver) solve(dst []float64, A *sparse.CSR, c float64, b []float64) error {
	var (
		g    = s.grid
		raw  = A.RawMatrix()
		band = mat.NewSymBandDense(s.n, min(g.M, s.n-1), nil)
	)
	for k := 0; k < g.K; k++ {
		p := s.pos[k]
		if p < 0 {
			dst[k] = b[k]
			continue
		}
		diag, r := 1., b[k]
		for idx := raw.Indptr[k]; idx < raw.Indptr[k+1]; idx++ {
			col, v := raw.Ind[idx], raw.Data[idx]
			q := s.pos[col]
			switch {
			case col == k:
				diag -= c * v
			case q < 0:
				r += c * v * b[col]
			case q > p:
				// The lower triangle mirrors the upper one
				band.SetSymBand(p, q, -c*v)
			}
		}
		band.SetSymBand(p, p, diag)
		s.rhs.SetVec(p, r)
	}

	if ok := s.chol.Factorize(band); !ok {
		return fmt.Errorf("%w: system matrix is not positive definite", ErrSolveFailure)
	}
	if err := s.chol.SolveVecTo(s.x, s.rhs); err != nil {
		return fmt.Errorf("%w: %v", ErrSolveFailure, err)
	}
	for k, p := range s.pos {
		if p >= 0 {
			dst[k] = s.x.AtVec(p)
		}
	}
	return nil
}
