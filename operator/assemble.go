package operator

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/anisodiff/diffusivity"
	"github.com/notargets/anisodiff/grid"
	"golang.org/x/sync/errgroup"
)

/*
The assembled operator is the divergence-form discretization

	(A u)_k = 1/hx² [ dE (u_E - u_k) - dW (u_k - u_W) ]
	        + 1/hy² [ dN (u_N - u_k) - dS (u_k - u_S) ]

for interior nodes k, with face diffusivities taken as the arithmetic mean of
the two nodal diffusivities sharing the face:

	dE = (d_k + d_E)/2 = ½ (d + Xi_x d)_k
	dW = (d_k + d_W)/2 = ½ (d + Omega_x d)_k

and the nodal diffusivity d = g((Dx u)² + (Dy u)²). The 1/h² weights and the
removal of boundary rows both come from Gamma. Boundary rows of A are empty,
so du/dt vanishes there and Dirichlet values never move.

Rows sum to zero and the interior block is symmetric, which makes -A
positive semi-definite on the interior whenever g >= 0.
*/

// Assembler builds A(u) on a fixed grid. It owns scratch buffers and is not
// safe for concurrent use; give each concurrently stepped state its own.
type Assembler struct {
	Grid   *grid.Grid
	layout *PartitionLayout

	// scratch, length K
	ux, uy, d []float64
	fwd, bwd  []float64
	face      []float64
	wE, wW    []float64
	wN, wS    []float64
}

// NewAssembler creates an assembler that splits per-node work across
// workers bands of grid rows. workers <= 1 assembles serially.
func NewAssembler(g *grid.Grid, workers int) *Assembler {
	layout, err := BuildPartitions(g.Ny, g.Nx, workers)
	if err != nil {
		// Grid construction guarantees a non-degenerate extent
		panic(err)
	}
	K := g.K
	return &Assembler{
		Grid:   g,
		layout: layout,
		ux:     make([]float64, K),
		uy:     make([]float64, K),
		d:      make([]float64, K),
		fwd:    make([]float64, K),
		bwd:    make([]float64, K),
		face:   make([]float64, K),
		wE:     make([]float64, K),
		wW:     make([]float64, K),
		wN:     make([]float64, K),
		wS:     make([]float64, K),
	}
}

// Layout returns the row band decomposition used for assembly
func (a *Assembler) Layout() *PartitionLayout {
	return a.layout
}

// Assemble returns a freshly allocated A(u). Neither u nor any grid operator
// is modified.
func (a *Assembler) Assemble(u []float64, fn diffusivity.Func) (A *sparse.CSR, err error) {
	g := a.Grid
	if err = a.evalDiffusivity(u, fn); err != nil {
		return
	}

	a.faceWeights(g.SupportX, a.wE, a.wW)
	a.faceWeights(g.SupportY, a.wN, a.wS)

	var (
		pat    = g.Pattern()
		indptr = append([]int(nil), pat.Indptr...)
		ind    = append([]int(nil), pat.Ind...)
		data   = make([]float64, len(ind))
	)
	a.forEachPartition(func(start, end int) {
		for k := start; k < end; k++ {
			if g.IsBoundary(k) {
				continue
			}
			row := data[indptr[k] : indptr[k]+grid.StencilSize]
			row[grid.South] = a.wS[k]
			row[grid.West] = a.wW[k]
			row[grid.East] = a.wE[k]
			row[grid.North] = a.wN[k]
			row[grid.Center] = -(a.wS[k] + a.wW[k] + a.wE[k] + a.wN[k])
		}
	})
	A = sparse.NewCSR(g.K, g.K, indptr, ind, data)
	return
}

// DiffusivityField returns a copy of the nodal diffusivity computed by the
// most recent Assemble or Diffusivity call
func (a *Assembler) DiffusivityField() []float64 {
	return append([]float64(nil), a.d...)
}

// Diffusivity evaluates the nodal diffusivity field for state u
func (a *Assembler) Diffusivity(u []float64, fn diffusivity.Func) ([]float64, error) {
	if err := a.evalDiffusivity(u, fn); err != nil {
		return nil, err
	}
	return a.DiffusivityField(), nil
}

func (a *Assembler) evalDiffusivity(u []float64, fn diffusivity.Func) error {
	g := a.Grid
	if len(u) != g.K {
		return fmt.Errorf("state length %d does not match grid size K=%d", len(u), g.K)
	}
	if fn == nil {
		return fmt.Errorf("nil diffusivity function")
	}
	grid.MulVecTo(a.ux, g.Dx, u)
	grid.MulVecTo(a.uy, g.Dy, u)
	a.forEachPartition(func(start, end int) {
		for k := start; k < end; k++ {
			a.d[k] = fn(a.ux[k]*a.ux[k] + a.uy[k]*a.uy[k])
		}
	})
	return nil
}

// faceWeights computes the Gamma weighted forward and backward face
// diffusivities along one axis from the current nodal field
func (a *Assembler) faceWeights(s *grid.Support, wFwd, wBwd []float64) {
	grid.MulVecTo(a.fwd, s.Xi, a.d)
	grid.MulVecTo(a.bwd, s.Omega, a.d)

	for k := range a.face {
		a.face[k] = .5 * (a.d[k] + a.fwd[k])
	}
	grid.MulVecTo(wFwd, s.Gamma, a.face)

	for k := range a.face {
		a.face[k] = .5 * (a.d[k] + a.bwd[k])
	}
	grid.MulVecTo(wBwd, s.Gamma, a.face)
}

func (a *Assembler) forEachPartition(work func(start, end int)) {
	parts := a.layout.Partitions
	if len(parts) == 1 {
		work(parts[0].Start, parts[0].End)
		return
	}
	var eg errgroup.Group
	for _, p := range parts {
		p := p
		eg.Go(func() error {
			work(p.Start, p.End)
			return nil
		})
	}
	_ = eg.Wait()
}

// Assemble is the serial one-shot form of Assembler.Assemble
func Assemble(g *grid.Grid, u []float64, fn diffusivity.Func) (*sparse.CSR, error) {
	return NewAssembler(g, 1).Assemble(u, fn)
}

// GradientMagnitude returns s = (Dx u)² + (Dy u)² at every node
func GradientMagnitude(g *grid.Grid, u []float64) (s []float64) {
	ux, uy := grid.MulVec(g.Dx, u), grid.MulVec(g.Dy, u)
	s = make([]float64, g.K)
	for k := range s {
		s[k] = ux[k]*ux[k] + uy[k]*uy[k]
	}
	return
}

// Diffusivity returns g(s) at every node for state u
func Diffusivity(g *grid.Grid, u []float64, fn diffusivity.Func) ([]float64, error) {
	return NewAssembler(g, 1).Diffusivity(u, fn)
}
