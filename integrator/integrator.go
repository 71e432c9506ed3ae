package integrator

import (
	"fmt"
	"math"
	"time"

	"github.com/james-bowman/sparse"
	"github.com/notargets/anisodiff/diffusivity"
	"github.com/notargets/anisodiff/grid"
	"github.com/notargets/anisodiff/operator"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Integrator advances one scalar state through T levels. Each step
// reassembles A(u) from the current state, then applies the configured
// scheme. Steps only move forward.
type Integrator struct {
	cfg  Config
	Grid *grid.Grid
	fn   diffusivity.Func

	asm     *operator.Assembler
	solver  *bandSolver
	history *History
	work    []float64

	state State
	err   error
	stats Statistics
	log   zerolog.Logger
}

// NewIntegrator validates the configuration and writes u0 as level 0.
// The grid operators are built here and reused for every step.
func NewIntegrator(u0 []float64, fn diffusivity.Func, cfg Config) (*Integrator, error) {
	g, err := newRunGrid(fn, cfg)
	if err != nil {
		return nil, err
	}
	return newIntegrator(g, u0, fn, cfg)
}

func newRunGrid(fn diffusivity.Func, cfg Config) (*grid.Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil diffusivity function", ErrInvalidConfig)
	}
	g, err := grid.NewGrid(cfg.M, cfg.N)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return g, nil
}

func newIntegrator(g *grid.Grid, u0 []float64, fn diffusivity.Func, cfg Config) (*Integrator, error) {
	if len(u0) != g.K {
		return nil, fmt.Errorf("%w: initial state has %d values, grid %dx%d needs %d",
			ErrInvalidConfig, len(u0), cfg.M, cfg.N, g.K)
	}
	it := &Integrator{
		cfg:     cfg,
		Grid:    g,
		fn:      fn,
		asm:     operator.NewAssembler(g, cfg.Workers),
		history: newHistory(cfg.T, g.K, u0),
		work:    make([]float64, g.K),
		state:   Initialized,
		log:     cfg.logger().With().Str("component", "integrator").Str("scheme", cfg.Scheme.String()).Logger(),
	}
	if cfg.Scheme != Explicit {
		it.solver = newBandSolver(g)
	}
	return it, nil
}

// State returns the current position in the run
func (it *Integrator) State() State {
	return it.state
}

// Err returns the error that aborted the run, if any
func (it *Integrator) Err() error {
	return it.err
}

// History returns the levels written so far
func (it *Integrator) History() *History {
	return it.history
}

// Statistics returns the accumulated work counters
func (it *Integrator) Statistics() Statistics {
	return it.stats
}

// Step computes the next level from the last one written
func (it *Integrator) Step() error {
	switch it.state {
	case Done:
		return ErrDone
	case Aborted:
		return it.err
	}
	start := time.Now()
	t := it.history.Written() - 1
	u := it.history.At(t)

	A, err := it.asm.Assemble(u, it.fn)
	if err != nil {
		return it.abort(t, err)
	}
	it.stats.Assemblies++
	it.observe(t, u)

	next := it.history.next()
	if err = it.advance(next, A, u); err != nil {
		return it.abort(t, err)
	}
	if it.cfg.CheckFinite && !allFinite(next) {
		return it.abort(t, fmt.Errorf("%w at step %d", ErrNonFinite, t))
	}
	it.history.commit()

	it.stats.StepCount++
	it.stats.Elapsed += time.Since(start)
	if it.history.Written() == it.history.Len() {
		it.state = Done
	} else {
		it.state = Stepping
	}
	it.log.Debug().Int("step", t).Dur("elapsed", time.Since(start)).Msg("step complete")
	return nil
}

// Run steps until the final level is written or a step fails
func (it *Integrator) Run() error {
	for it.state != Done {
		if err := it.Step(); err != nil {
			return err
		}
	}
	it.log.Info().
		Int("steps", it.stats.StepCount).
		Int("solves", it.stats.Solves).
		Dur("elapsed", it.stats.Elapsed).
		Msg("run complete")
	return nil
}

// advance writes u_{t+1} into next
func (it *Integrator) advance(next []float64, A *sparse.CSR, u []float64) error {
	dt := it.cfg.Dt
	switch it.cfg.Scheme {
	case Explicit:
		// u + dt A u
		grid.MulVecTo(it.work, A, u)
		it.stats.MatVecs++
		floats.AddScaledTo(next, u, dt, it.work)
		return nil

	case Implicit:
		// (I - dt A) x = u
		it.stats.Solves++
		return it.solver.solve(next, A, dt, u)

	case CrankNicolson:
		// (I - dt/2 A) x = (I + dt/2 A) u
		grid.MulVecTo(it.work, A, u)
		it.stats.MatVecs++
		floats.AddScaledTo(it.work, u, .5*dt, it.work)
		it.stats.Solves++
		return it.solver.solve(next, A, .5*dt, it.work)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, it.cfg.Scheme)
}

func (it *Integrator) observe(t int, u []float64) {
	if it.cfg.Observer == nil || it.cfg.EchoEvery < 1 || t%it.cfg.EchoEvery != 0 {
		return
	}
	it.cfg.Observer(t, append([]float64(nil), u...), it.asm.DiffusivityField())
}

func (it *Integrator) abort(t int, err error) error {
	it.state = Aborted
	it.err = fmt.Errorf("step %d: %w", t, err)
	it.log.Error().Err(err).Int("step", t).Int("valid_levels", it.history.Written()).Msg("run aborted")
	return it.err
}

// Solve runs a scalar integration from u0 and returns the full history.
// When a step fails the history is still returned, holding every level
// written before the failure.
func Solve(u0 []float64, fn diffusivity.Func, cfg Config) (*History, error) {
	it, err := NewIntegrator(u0, fn, cfg)
	if err != nil {
		return nil, err
	}
	err = it.Run()
	return it.History(), err
}

// ExplicitStableStep returns the largest dt for which the explicit scheme
// is a convex update on grid g when the diffusivity never exceeds dMax
func ExplicitStableStep(g *grid.Grid, dMax float64) float64 {
	return 1. / (2 * dMax * (1./(g.Hx*g.Hx) + 1./(g.Hy*g.Hy)))
}

func allFinite(u []float64) bool {
	for _, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
