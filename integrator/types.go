package integrator

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidConfig is returned before the first step for unusable run parameters
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrSolveFailure is returned when the implicit system cannot be solved
	ErrSolveFailure = errors.New("linear solve failed")
	// ErrNonFinite is returned by the opt-in finite value check
	ErrNonFinite = errors.New("state became non-finite")
	// ErrDone is returned when stepping an integrator that reached the last step
	ErrDone = errors.New("integration already complete")
)

// Scheme selects the time discretization. The zero value is Implicit, the
// unconditionally stable choice.
type Scheme uint8

const (
	Implicit      Scheme = iota // Backward Euler
	Explicit                    // Forward Euler
	CrankNicolson               // Trapezoidal rule
	NumberOfSchemes
)

var schemeNames = [NumberOfSchemes]string{
	Implicit:      "implicit",
	Explicit:      "explicit",
	CrankNicolson: "crank-nicolson",
}

func (s Scheme) String() string {
	if s >= NumberOfSchemes {
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
	return schemeNames[s]
}

// Theta is the implicitness weight of the scheme
func (s Scheme) Theta() float64 {
	switch s {
	case Implicit:
		return 1
	case CrankNicolson:
		return .5
	default:
		return 0
	}
}

// ParseScheme accepts the scheme names plus the usual short forms
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "explicit", "fe", "forward-euler":
		return Explicit, nil
	case "implicit", "be", "backward-euler":
		return Implicit, nil
	case "crank-nicolson", "cn", "cranknicolson":
		return CrankNicolson, nil
	}
	return 0, fmt.Errorf("%w: unknown scheme %q", ErrInvalidConfig, name)
}

// SchemeNames lists the canonical scheme names
func SchemeNames() []string {
	return append([]string(nil), schemeNames[:]...)
}

// State is the position of an integrator in its run
type State uint8

const (
	Initialized State = iota // Only the initial condition is written
	Stepping                 // At least one step taken, more remain
	Done                     // The final entry is written
	Aborted                  // A step failed, entries already written stay valid
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Stepping:
		return "stepping"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Observer receives the state entering a step together with the nodal
// diffusivity evaluated on it. Both slices are copies.
type Observer func(step int, u, diffusivity []float64)

// ChannelObserver receives the K x C multi-channel state entering a step and
// the K x C nodal diffusivity each channel evaluates on its own column. Both
// matrices are copies.
type ChannelObserver func(step int, u, diffusivity *mat.Dense)

// Config holds the run parameters for the integrators
type Config struct {
	M, N   int     // Interior grid points along x and y
	T      int     // Number of time levels written, including the initial condition
	Dt     float64 // Step size
	Scheme Scheme

	// EchoEvery > 0 calls the observers every EchoEvery steps
	EchoEvery       int
	Observer        Observer
	ChannelObserver ChannelObserver

	// CheckFinite aborts with ErrNonFinite instead of letting a diverging
	// explicit run write Inf/NaN into the history
	CheckFinite bool

	// Workers > 1 splits operator assembly across that many row bands
	Workers int

	// Logger defaults to a disabled logger
	Logger *zerolog.Logger
}

// Validate checks the parameters that must hold before the first step
func (c *Config) Validate() error {
	switch {
	case c.M < 1 || c.N < 1:
		return fmt.Errorf("%w: grid %dx%d, both dimensions must be >= 1", ErrInvalidConfig, c.M, c.N)
	case c.T < 2:
		return fmt.Errorf("%w: T=%d, need at least 2 time levels", ErrInvalidConfig, c.T)
	case !(c.Dt > 0) || math.IsInf(c.Dt, 0):
		return fmt.Errorf("%w: dt=%g, must be positive and finite", ErrInvalidConfig, c.Dt)
	case c.Scheme >= NumberOfSchemes:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Scheme)
	case c.EchoEvery < 0:
		return fmt.Errorf("%w: echo cadence %d is negative", ErrInvalidConfig, c.EchoEvery)
	}
	return nil
}

// K returns the node count of the configured grid
func (c *Config) K() int {
	return (c.M + 2) * (c.N + 2)
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// DefaultEchoEvery spreads ten observations over a run of T levels
func DefaultEchoEvery(T int) int {
	if T/10 < 1 {
		return 1
	}
	return T / 10
}

// Statistics summarizes the work done by an integrator
type Statistics struct {
	StepCount  int // Steps completed
	Assemblies int // A(u) builds
	Solves     int // Banded Cholesky solves
	MatVecs    int // Sparse matrix-vector products outside assembly
	Elapsed    time.Duration
}

func (s *Statistics) add(o Statistics) {
	s.StepCount += o.StepCount
	s.Assemblies += o.Assemblies
	s.Solves += o.Solves
	s.MatVecs += o.MatVecs
	s.Elapsed += o.Elapsed
}
