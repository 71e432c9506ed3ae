package integrator

import (
	"fmt"
	"time"

	"github.com/notargets/anisodiff/diffusivity"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ChannelIntegrator steps every column of a K x C state independently and
// in lockstep. Each channel assembles its own operator from its own data;
// channels never exchange information.
type ChannelIntegrator struct {
	cfg      Config
	channels []*Integrator
	history  *ChannelHistory
	stats    Statistics
}

// NewChannelIntegrator prepares a multi-channel run, one column of u0 per channel
func NewChannelIntegrator(u0 *mat.Dense, fn diffusivity.Func, cfg Config) (*ChannelIntegrator, error) {
	if u0 == nil {
		return nil, fmt.Errorf("%w: nil initial state", ErrInvalidConfig)
	}
	g, err := newRunGrid(fn, cfg)
	if err != nil {
		return nil, err
	}
	K, C := u0.Dims()
	if K != g.K {
		return nil, fmt.Errorf("%w: initial state has %d rows, grid %dx%d needs %d",
			ErrInvalidConfig, K, cfg.M, cfg.N, g.K)
	}

	// Channel observation happens here, per level, not inside each channel
	chCfg := cfg
	chCfg.Observer = nil
	ci := &ChannelIntegrator{
		cfg:      cfg,
		channels: make([]*Integrator, C),
		history:  &ChannelHistory{channels: make([]*History, C)},
	}
	for c := range ci.channels {
		log := cfg.logger().With().Int("channel", c).Logger()
		chCfg.Logger = &log
		it, err := newIntegrator(g, mat.Col(nil, c, u0), fn, chCfg)
		if err != nil {
			return nil, err
		}
		ci.channels[c] = it
		ci.history.channels[c] = it.History()
	}
	return ci, nil
}

// History returns the synchronized multi-channel history
func (ci *ChannelIntegrator) History() *ChannelHistory {
	return ci.history
}

// Statistics returns the work counters summed over channels, with
// StepCount counting synchronized levels
func (ci *ChannelIntegrator) Statistics() (s Statistics) {
	for _, it := range ci.channels {
		s.add(it.Statistics())
	}
	s.StepCount = ci.stats.StepCount
	s.Elapsed = ci.stats.Elapsed
	return
}

// State reports Aborted if any channel failed, else the common channel state
func (ci *ChannelIntegrator) State() State {
	for _, it := range ci.channels {
		if it.State() == Aborted {
			return Aborted
		}
	}
	return ci.channels[0].State()
}

// Step advances every channel by one level. The level becomes readable
// through History only when all channels have completed it.
func (ci *ChannelIntegrator) Step() error {
	if st := ci.State(); st == Done {
		return ErrDone
	} else if st == Aborted {
		for _, it := range ci.channels {
			if it.Err() != nil {
				return it.Err()
			}
		}
	}
	start := time.Now()
	ci.observe(ci.history.Written() - 1)

	var eg errgroup.Group
	for c, it := range ci.channels {
		c, it := c, it
		eg.Go(func() error {
			if err := it.Step(); err != nil {
				return fmt.Errorf("channel %d: %w", c, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	ci.stats.StepCount++
	ci.stats.Elapsed += time.Since(start)
	return nil
}

// observe hands level t and its per-channel diffusivity to the channel
// observer. A level whose diffusivity cannot be evaluated is skipped; the
// step that follows fails on the same evaluation and aborts the run.
func (ci *ChannelIntegrator) observe(t int) {
	if ci.cfg.ChannelObserver == nil || ci.cfg.EchoEvery < 1 || t%ci.cfg.EchoEvery != 0 {
		return
	}
	u := ci.history.At(t)
	K, C := u.Dims()
	d := mat.NewDense(K, C, nil)
	for c, it := range ci.channels {
		g, err := it.asm.Diffusivity(it.history.At(t), it.fn)
		if err != nil {
			return
		}
		d.SetCol(c, g)
	}
	ci.cfg.ChannelObserver(t, u, d)
}

// Run steps until the final level is written or a step fails
func (ci *ChannelIntegrator) Run() error {
	for ci.State() != Done {
		if err := ci.Step(); err != nil {
			return err
		}
	}
	return nil
}

// SolveChannels runs a multi-channel integration, for example the three
// color planes of an RGB image stored as the columns of a K x 3 matrix.
// The history is returned even when a step fails.
func SolveChannels(u0 *mat.Dense, fn diffusivity.Func, cfg Config) (*ChannelHistory, error) {
	ci, err := NewChannelIntegrator(u0, fn, cfg)
	if err != nil {
		return nil, err
	}
	err = ci.Run()
	return ci.History(), err
}
