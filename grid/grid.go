package grid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/james-bowman/sparse"
)

// ErrInvalidGrid is returned for degenerate grid dimensions
var ErrInvalidGrid = errors.New("invalid grid")

// DirectionType selects one of the two grid axes
type DirectionType uint8

const (
	XDIR DirectionType = iota
	YDIR
)

func (d DirectionType) String() string {
	switch d {
	case XDIR:
		return "x"
	case YDIR:
		return "y"
	default:
		return fmt.Sprintf("DirectionType(%d)", uint8(d))
	}
}

// Grid is the fixed rectangular node layout together with every
// state-independent operator used by the assembler and the integrators.
//
// Nodes are flattened row-major over the Ny x Nx array:
//
//	k = j*Nx + i,  i in [0, Nx) along x,  j in [0, Ny) along y
//
// The outermost layer of nodes on each side is the Dirichlet boundary.
type Grid struct {
	M, N   int // Interior point counts along x and y
	Nx, Ny int // Node counts along x and y, including the boundary layer
	K      int // Total node count (M+2)*(N+2)

	Hx, Hy float64 // Grid spacing 1/(M+1) and 1/(N+1)

	// First derivative operators [K × K]
	Dx, Dy *sparse.CSR

	// Support structures used to assemble the divergence-form operator
	SupportX, SupportY *Support

	boundary []bool
	pattern  *Pattern
}

// NewGrid builds the operators for an M x N interior grid. The result is
// read-only and may be shared by any number of assemblies over the same grid.
func NewGrid(M, N int) (g *Grid, err error) {
	if M < 1 || N < 1 {
		err = fmt.Errorf("%w: M=%d, N=%d, both must be >= 1", ErrInvalidGrid, M, N)
		return
	}
	g = &Grid{
		M:  M,
		N:  N,
		Nx: M + 2,
		Ny: N + 2,
		K:  (M + 2) * (N + 2),
		Hx: 1. / float64(M+1),
		Hy: 1. / float64(N+1),
	}

	g.boundary = make([]bool, g.K)
	for k := 0; k < g.K; k++ {
		i, j := g.Coords(k)
		g.boundary[k] = i == 0 || j == 0 || i == g.Nx-1 || j == g.Ny-1
	}

	g.Dx = g.diffMatrix(XDIR)
	g.Dy = g.diffMatrix(YDIR)
	g.SupportX = g.newSupport(XDIR)
	g.SupportY = g.newSupport(YDIR)
	g.pattern = g.newPattern()
	return
}

// Index returns the flat index of node (i, j)
func (g *Grid) Index(i, j int) int {
	return j*g.Nx + i
}

// Coords returns the (i, j) position of flat index k
func (g *Grid) Coords(k int) (i, j int) {
	return k % g.Nx, k / g.Nx
}

// IsBoundary reports whether node k belongs to the Dirichlet boundary
func (g *Grid) IsBoundary(k int) bool {
	return g.boundary[k]
}

// BoundaryNodes returns the flat indices of all boundary nodes in ascending order
func (g *Grid) BoundaryNodes() (nodes []int) {
	nodes = make([]int, 0, g.K-g.M*g.N)
	for k, b := range g.boundary {
		if b {
			nodes = append(nodes, k)
		}
	}
	return
}

// InteriorNodes returns the flat indices of all interior nodes in ascending order
func (g *Grid) InteriorNodes() (nodes []int) {
	nodes = make([]int, 0, g.M*g.N)
	for k, b := range g.boundary {
		if !b {
			nodes = append(nodes, k)
		}
	}
	return
}

// Support returns the support structures for one axis
func (g *Grid) Support(dir DirectionType) *Support {
	if dir == YDIR {
		return g.SupportY
	}
	return g.SupportX
}

// Pattern returns the fixed sparsity pattern of the diffusion operator
func (g *Grid) Pattern() *Pattern {
	return g.pattern
}

// stride returns the flat index distance between neighbours along dir
func (g *Grid) stride(dir DirectionType) int {
	if dir == YDIR {
		return g.Nx
	}
	return 1
}

func (g *Grid) spacing(dir DirectionType) float64 {
	if dir == YDIR {
		return g.Hy
	}
	return g.Hx
}

// axisPos returns the position of node k along dir and the node count on that axis
func (g *Grid) axisPos(k int, dir DirectionType) (pos, n int) {
	i, j := g.Coords(k)
	if dir == YDIR {
		return j, g.Ny
	}
	return i, g.Nx
}

// String returns a summary of the grid and its operators
func (g *Grid) String() string {
	var sb strings.Builder

	sb.WriteString("=== Grid Summary ===\n")
	sb.WriteString(fmt.Sprintf("  Interior points (M x N): %d x %d\n", g.M, g.N))
	sb.WriteString(fmt.Sprintf("  Nodes (Nx x Ny): %d x %d, K = %d\n", g.Nx, g.Ny, g.K))
	sb.WriteString(fmt.Sprintf("  Boundary nodes: %d, interior nodes: %d\n", g.K-g.M*g.N, g.M*g.N))
	sb.WriteString(fmt.Sprintf("  Spacing: dx = %.6g, dy = %.6g\n", g.Hx, g.Hy))

	sb.WriteString("\n--- Derivative Operators ---\n")
	sb.WriteString(fmt.Sprintf("  Dx: %d×%d, nnz = %d\n", g.K, g.K, g.Dx.NNZ()))
	sb.WriteString(fmt.Sprintf("  Dy: %d×%d, nnz = %d\n", g.K, g.K, g.Dy.NNZ()))

	sb.WriteString("\n--- Support Structures ---\n")
	for _, dir := range []DirectionType{XDIR, YDIR} {
		s := g.Support(dir)
		sb.WriteString(fmt.Sprintf("  %s: Xi nnz = %d, Omega nnz = %d, Gamma nnz = %d\n",
			dir, s.Xi.NNZ(), s.Omega.NNZ(), s.Gamma.NNZ()))
	}

	sb.WriteString("\n--- Diffusion Operator Pattern ---\n")
	sb.WriteString(fmt.Sprintf("  Nonzeros per interior row: %d, total nnz = %d\n",
		StencilSize, g.pattern.NNZ()))
	sb.WriteString("\n====================\n")

	return sb.String()
}
