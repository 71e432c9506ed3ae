package grid

import (
	"github.com/james-bowman/sparse"
)

// Support holds the fixed selector and weight structures for one axis.
// None of them depend on the evolving state; only the diffusivity values
// combined with them change from step to step.
type Support struct {
	Dir DirectionType

	// Xi selects the forward neighbour along the axis: Xi[k, k+s] = 1 for interior k
	Xi *sparse.CSR
	// Omega selects the backward neighbour along the axis: Omega[k, k-s] = 1 for interior k
	Omega *sparse.CSR
	// Gamma is diagonal with 1/h² on interior rows and zero on boundary rows
	Gamma *sparse.CSR
}

// Stencil slots of an interior row of the diffusion operator, in column order
const (
	South  = iota // k - Nx
	West          // k - 1
	Center        // k
	East          // k + 1
	North         // k + Nx
	StencilSize
)

// Pattern is the CSR sparsity layout shared by every assembled diffusion
// operator on a grid. Boundary rows are empty, interior rows carry the five
// stencil slots in ascending column order.
type Pattern struct {
	Indptr []int // Length K+1
	Ind    []int // Column indices, StencilSize per interior row
}

// NNZ returns the number of stored entries
func (p *Pattern) NNZ() int {
	return len(p.Ind)
}

// csrBuilder accumulates rows in ascending column order
type csrBuilder struct {
	r, c   int
	indptr []int
	ind    []int
	data   []float64
}

func newCSRBuilder(r, c, nnzHint int) *csrBuilder {
	b := &csrBuilder{
		r:      r,
		c:      c,
		indptr: make([]int, 1, r+1),
		ind:    make([]int, 0, nnzHint),
		data:   make([]float64, 0, nnzHint),
	}
	return b
}

func (b *csrBuilder) add(col int, v float64) {
	b.ind = append(b.ind, col)
	b.data = append(b.data, v)
}

func (b *csrBuilder) endRow() {
	b.indptr = append(b.indptr, len(b.ind))
}

func (b *csrBuilder) build() *sparse.CSR {
	return sparse.NewCSR(b.r, b.c, b.indptr, b.ind, b.data)
}

// diffMatrix builds the first derivative along dir. Nodes with both
// neighbours on the axis get a central difference, the first and last line
// of the axis get a one-sided difference pointing into the grid.
func (g *Grid) diffMatrix(dir DirectionType) *sparse.CSR {
	var (
		s = g.stride(dir)
		h = g.spacing(dir)
		b = newCSRBuilder(g.K, g.K, 2*g.K)
	)
	for k := 0; k < g.K; k++ {
		pos, n := g.axisPos(k, dir)
		switch pos {
		case 0:
			b.add(k, -1./h)
			b.add(k+s, 1./h)
		case n - 1:
			b.add(k-s, -1./h)
			b.add(k, 1./h)
		default:
			b.add(k-s, -.5/h)
			b.add(k+s, .5/h)
		}
		b.endRow()
	}
	return b.build()
}

func (g *Grid) newSupport(dir DirectionType) *Support {
	var (
		s     = g.stride(dir)
		h     = g.spacing(dir)
		nInt  = g.M * g.N
		xi    = newCSRBuilder(g.K, g.K, nInt)
		omega = newCSRBuilder(g.K, g.K, nInt)
		gamma = newCSRBuilder(g.K, g.K, nInt)
	)
	for k := 0; k < g.K; k++ {
		if !g.boundary[k] {
			xi.add(k+s, 1)
			omega.add(k-s, 1)
			gamma.add(k, 1./(h*h))
		}
		xi.endRow()
		omega.endRow()
		gamma.endRow()
	}
	return &Support{
		Dir:   dir,
		Xi:    xi.build(),
		Omega: omega.build(),
		Gamma: gamma.build(),
	}
}

func (g *Grid) newPattern() *Pattern {
	p := &Pattern{
		Indptr: make([]int, 1, g.K+1),
		Ind:    make([]int, 0, StencilSize*g.M*g.N),
	}
	for k := 0; k < g.K; k++ {
		if !g.boundary[k] {
			p.Ind = append(p.Ind, k-g.Nx, k-1, k, k+1, k+g.Nx)
		}
		p.Indptr = append(p.Indptr, len(p.Ind))
	}
	return p
}

// MulVecTo computes dst = A*x, overwriting dst
func MulVecTo(dst []float64, A *sparse.CSR, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	A.MulVecTo(dst, false, x)
}

// MulVec returns A*x in a new slice
func MulVec(A *sparse.CSR, x []float64) (y []float64) {
	r, _ := A.Dims()
	y = make([]float64, r)
	MulVecTo(y, A, x)
	return
}
