package diffusivity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownDiffusivity is returned when a catalog lookup fails
var ErrUnknownDiffusivity = errors.New("unknown diffusivity function")

// Func maps a squared gradient magnitude s >= 0 to a diffusivity >= 0.
// Implementations must be pure: the assembler evaluates them concurrently.
type Func func(s float64) float64

// Kind indexes the catalog
type Kind int

const (
	Constant    Kind = iota // g(s) = c
	Exponential             // g(s) = exp(-s/c²)
	Rational                // g(s) = 1/(1 + s/c²)
	Charbonnier             // g(s) = 1/sqrt(1 + s/c²)
	NumberOfKinds
)

var kindNames = [NumberOfKinds]string{
	Constant:    "constant",
	Exponential: "exponential",
	Rational:    "rational",
	Charbonnier: "charbonnier",
}

func (k Kind) String() string {
	if k < 0 || k >= NumberOfKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Names lists the catalog entries in index order
func Names() []string {
	return append([]string(nil), kindNames[:]...)
}

// Choose returns catalog entry index parameterized by c. For Constant, c is
// the diffusivity itself; for the edge preserving entries c is the contrast
// scale at which smoothing starts to shut off.
func Choose(index int, c float64) (fn Func, err error) {
	if index < 0 || index >= int(NumberOfKinds) {
		err = fmt.Errorf("%w: index %d, valid range is [0, %d)",
			ErrUnknownDiffusivity, index, NumberOfKinds)
		return
	}
	if !(c > 0) || math.IsInf(c, 0) {
		err = fmt.Errorf("diffusivity parameter must be positive and finite, got %g", c)
		return
	}
	c2 := c * c
	switch Kind(index) {
	case Constant:
		fn = func(float64) float64 { return c }
	case Exponential:
		fn = func(s float64) float64 { return math.Exp(-s / c2) }
	case Rational:
		fn = func(s float64) float64 { return 1. / (1. + s/c2) }
	case Charbonnier:
		fn = func(s float64) float64 { return 1. / math.Sqrt(1.+s/c2) }
	}
	return
}

// Lookup resolves a catalog entry by name, case insensitive
func Lookup(name string, c float64) (Func, error) {
	for i, n := range kindNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Choose(i, c)
		}
	}
	return nil, fmt.Errorf("%w: %q, choose one of %s",
		ErrUnknownDiffusivity, name, strings.Join(kindNames[:], ", "))
}
