package integrator

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/notargets/anisodiff/diffusivity"
	"github.com/notargets/anisodiff/grid"
	"github.com/notargets/anisodiff/imageio"
	"github.com/notargets/anisodiff/operator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var schemes = []Scheme{Explicit, Implicit, CrankNicolson}

func mustChoose(t *testing.T, kind diffusivity.Kind, c float64) diffusivity.Func {
	fn, err := diffusivity.Choose(int(kind), c)
	require.NoError(t, err)
	return fn
}

func mustGrid(t *testing.T, M, N int) *grid.Grid {
	g, err := grid.NewGrid(M, N)
	require.NoError(t, err)
	return g
}

// stableDt returns a step size safe for every scheme on an M x N grid with
// diffusivity bounded by one
func stableDt(t *testing.T, M, N int) float64 {
	return .9 * ExplicitStableStep(mustGrid(t, M, N), 1)
}

func boundaryValues(g *grid.Grid, u []float64) (b []float64) {
	for _, k := range g.BoundaryNodes() {
		b = append(b, u[k])
	}
	return
}

func interiorNorm(g *grid.Grid, u []float64) float64 {
	var sum float64
	for _, k := range g.InteriorNodes() {
		sum += u[k] * u[k]
	}
	return math.Sqrt(sum)
}

func TestSingleInteriorNode(t *testing.T) {
	// M = N = 1, h = 1/2, every neighbour weight is 4 and A u = 16 (b - x)
	var (
		b, x = 100., 0.
		dt   = .01
		u0   = []float64{b, b, b, b, x, b, b, b, b}
		fn   = mustChoose(t, diffusivity.Constant, 1)
	)
	expected := map[Scheme]float64{
		Explicit:      x + dt*16*(b-x),
		Implicit:      (x + dt*16*b) / (1 + 16*dt),
		CrankNicolson: (x + .5*dt*16*(b-x) + .5*dt*16*b) / (1 + .5*dt*16),
	}
	for _, s := range schemes {
		t.Run(s.String(), func(t *testing.T) {
			h, err := Solve(u0, fn, Config{M: 1, N: 1, T: 2, Dt: dt, Scheme: s})
			require.NoError(t, err)
			final := h.Final()
			assert.InDelta(t, expected[s], final[4], 1.e-12)
			final[4] = b
			for k, v := range final {
				assert.Equal(t, b, v, "node %d", k)
			}
		})
	}
}

func TestHotBoundaryColdInterior(t *testing.T) {
	M, N := 4, 4
	g := mustGrid(t, M, N)
	u0 := make([]float64, g.K)
	for _, k := range g.BoundaryNodes() {
		u0[k] = 100
	}
	h, err := Solve(u0, mustChoose(t, diffusivity.Constant, 1),
		Config{M: M, N: N, T: 3, Dt: .1, Scheme: Implicit})
	require.NoError(t, err)
	u1 := h.At(1)
	for _, k := range g.InteriorNodes() {
		assert.Greater(t, u1[k], 0.)
		assert.Less(t, u1[k], 100.)
	}
	for _, k := range g.BoundaryNodes() {
		assert.Equal(t, 100., u1[k])
	}
	// symmetric data stays symmetric
	assert.InDelta(t, u1[g.Index(1, 1)], u1[g.Index(4, 4)], 1.e-10)
	assert.InDelta(t, u1[g.Index(1, 4)], u1[g.Index(4, 1)], 1.e-10)
	// nodes near the hot edge warm up first
	assert.Greater(t, u1[g.Index(1, 1)], u1[g.Index(2, 2)])
}

func TestBoundaryNeverMoves(t *testing.T) {
	M, N := 8, 6
	g := mustGrid(t, M, N)
	u0 := imageio.RandomSquares(M, N, 20, rand.New(rand.NewSource(3)))
	want := boundaryValues(g, u0)
	for i := range diffusivity.Names() {
		c := 10.
		if diffusivity.Kind(i) == diffusivity.Constant {
			c = 1
		}
		fn, err := diffusivity.Choose(i, c)
		require.NoError(t, err)
		for _, s := range schemes {
			h, err := Solve(u0, fn, Config{M: M, N: N, T: 6, Dt: stableDt(t, M, N), Scheme: s})
			require.NoError(t, err)
			for lvl := 0; lvl < h.Written(); lvl++ {
				assert.Equal(t, want, boundaryValues(g, h.At(lvl)), "%s level %d", s, lvl)
			}
		}
	}
}

func TestConstantStateIsSteady(t *testing.T) {
	M, N := 5, 7
	u0 := make([]float64, (M+2)*(N+2))
	floats.AddConst(42, u0)
	fn := mustChoose(t, diffusivity.Exponential, 5)
	for _, s := range schemes {
		h, err := Solve(u0, fn, Config{M: M, N: N, T: 4, Dt: 1.e-3, Scheme: s})
		require.NoError(t, err)
		for _, v := range h.Final() {
			assert.InDelta(t, 42., v, 1.e-10, s.String())
		}
	}
}

func TestInteriorEnergyDecays(t *testing.T) {
	M, N := 9, 7
	g := mustGrid(t, M, N)
	rng := rand.New(rand.NewSource(11))
	u0 := make([]float64, g.K)
	for _, k := range g.InteriorNodes() {
		u0[k] = 255 * rng.Float64()
	}
	fn := mustChoose(t, diffusivity.Rational, 10)
	for _, s := range schemes {
		dt := stableDt(t, M, N)
		if s != Explicit {
			dt *= 50
		}
		h, err := Solve(u0, fn, Config{M: M, N: N, T: 20, Dt: dt, Scheme: s})
		require.NoError(t, err)
		prev := interiorNorm(g, h.At(0))
		for lvl := 1; lvl < h.Written(); lvl++ {
			e := interiorNorm(g, h.At(lvl))
			assert.LessOrEqual(t, e, prev*(1+1.e-12), "%s level %d", s, lvl)
			prev = e
		}
		assert.Less(t, prev, interiorNorm(g, u0), s.String())
	}
}

// dirichletEnergy sums the weighted squared differences over every grid link
// touching an interior node
func dirichletEnergy(g *grid.Grid, u []float64) (e float64) {
	wx, wy := 1/(g.Hx*g.Hx), 1/(g.Hy*g.Hy)
	for k := range u {
		i, j := g.Coords(k)
		if i+1 < g.Nx && !(g.IsBoundary(k) && g.IsBoundary(k+1)) {
			e += wx * (u[k+1] - u[k]) * (u[k+1] - u[k])
		}
		if j+1 < g.Ny && !(g.IsBoundary(k) && g.IsBoundary(k+g.Nx)) {
			e += wy * (u[k+g.Nx] - u[k]) * (u[k+g.Nx] - u[k])
		}
	}
	return
}

func TestHeatEquationReduction(t *testing.T) {
	M, N := 8, 8
	g := mustGrid(t, M, N)
	u0 := imageio.Squares(M, N)
	fn := mustChoose(t, diffusivity.Constant, 1)

	// one huge implicit step lands on the discrete harmonic state
	steady, err := Solve(u0, fn, Config{M: M, N: N, T: 2, Dt: 1.e9, Scheme: Implicit})
	require.NoError(t, err)
	dist := func(u []float64) float64 {
		return floats.Distance(u, steady.Final(), 2)
	}

	for _, s := range []Scheme{Implicit, CrankNicolson} {
		h, err := Solve(u0, fn, Config{M: M, N: N, T: 11, Dt: .01, Scheme: s})
		require.NoError(t, err)
		for lvl := 1; lvl < h.Written(); lvl++ {
			prev, cur := h.At(lvl-1), h.At(lvl)
			assert.LessOrEqual(t, dirichletEnergy(g, cur), dirichletEnergy(g, prev)*(1+1.e-12), "%s level %d", s, lvl)
			assert.Less(t, dist(cur), dist(prev), "%s level %d", s, lvl)
		}
		assert.Less(t, dist(h.Final()), .5*dist(u0), s.String())
	}
}

func TestMaximumPrinciple(t *testing.T) {
	M, N := 10, 10
	u0 := imageio.RandomSquares(M, N, 30, rand.New(rand.NewSource(5)))
	lo, hi := floats.Min(u0), floats.Max(u0)
	fn := mustChoose(t, diffusivity.Charbonnier, 15)
	cases := []struct {
		scheme Scheme
		dt     float64
	}{
		{Explicit, stableDt(t, M, N)},
		{Implicit, 1000 * stableDt(t, M, N)},
	}
	for _, tc := range cases {
		h, err := Solve(u0, fn, Config{M: M, N: N, T: 30, Dt: tc.dt, Scheme: tc.scheme})
		require.NoError(t, err)
		for lvl := 0; lvl < h.Written(); lvl++ {
			u := h.At(lvl)
			assert.GreaterOrEqual(t, floats.Min(u), lo-1.e-9, "%s level %d", tc.scheme, lvl)
			assert.LessOrEqual(t, floats.Max(u), hi+1.e-9, "%s level %d", tc.scheme, lvl)
		}
	}
}

func TestUnconditionalStability(t *testing.T) {
	if testing.Short() {
		t.Skip("long run")
	}
	M, N := 8, 8
	u0 := imageio.RandomSquares(M, N, 50, rand.New(rand.NewSource(9)))
	fn := mustChoose(t, diffusivity.Constant, 1)
	dt := 100 * ExplicitStableStep(mustGrid(t, M, N), 1)
	for _, s := range []Scheme{Implicit, CrankNicolson} {
		h, err := Solve(u0, fn, Config{M: M, N: N, T: 1000, Dt: dt, Scheme: s, CheckFinite: true})
		require.NoError(t, err, s.String())
		assert.Equal(t, 1000, h.Written())
		assert.True(t, allFinite(h.Final()))
	}
}

func TestExplicitStabilityBound(t *testing.T) {
	M, N := 8, 8
	g := mustGrid(t, M, N)
	u0 := imageio.RandomSquares(M, N, 50, rand.New(rand.NewSource(9)))
	fn := mustChoose(t, diffusivity.Constant, 1)
	bound := ExplicitStableStep(g, 1)
	assert.InDelta(t, 1./(4*81), bound, 1.e-15)

	h, err := Solve(u0, fn, Config{M: M, N: N, T: 1000, Dt: .9 * bound, Scheme: Explicit})
	require.NoError(t, err)
	assert.True(t, allFinite(h.Final()))

	// Past the bound the run diverges silently unless asked to check
	h, err = Solve(u0, fn, Config{M: M, N: N, T: 1000, Dt: 3 * bound, Scheme: Explicit})
	require.NoError(t, err)
	assert.Equal(t, 1000, h.Written())
	assert.False(t, allFinite(h.Final()))

	it, err := NewIntegrator(u0, fn, Config{M: M, N: N, T: 1000, Dt: 3 * bound, Scheme: Explicit, CheckFinite: true})
	require.NoError(t, err)
	err = it.Run()
	require.ErrorIs(t, err, ErrNonFinite)
	assert.Equal(t, Aborted, it.State())
	assert.Less(t, it.History().Written(), 1000)
	assert.True(t, allFinite(it.History().Final()))
	// a failed integrator keeps reporting the same failure
	assert.Equal(t, err, it.Step())
}

func TestSolveFailure(t *testing.T) {
	M, N := 4, 4
	u0 := imageio.Squares(M, N)
	negative := func(float64) float64 { return -1.e6 }
	for _, s := range []Scheme{Implicit, CrankNicolson} {
		h, err := Solve(u0, negative, Config{M: M, N: N, T: 5, Dt: .1, Scheme: s})
		require.ErrorIs(t, err, ErrSolveFailure, s.String())
		require.NotNil(t, h)
		assert.Equal(t, 1, h.Written())
		assert.Equal(t, u0, h.Final())
		assert.Nil(t, h.At(1))
	}
}

func TestConfigValidation(t *testing.T) {
	fn := mustChoose(t, diffusivity.Constant, 1)
	good := Config{M: 3, N: 2, T: 3, Dt: .01}
	u0 := make([]float64, good.K())
	assert.Equal(t, 20, good.K())

	_, err := NewIntegrator(u0, fn, good)
	require.NoError(t, err)

	bad := []func(c *Config){
		func(c *Config) { c.M = 0 },
		func(c *Config) { c.N = -1 },
		func(c *Config) { c.T = 1 },
		func(c *Config) { c.Dt = 0 },
		func(c *Config) { c.Dt = -1 },
		func(c *Config) { c.Dt = math.NaN() },
		func(c *Config) { c.Dt = math.Inf(1) },
		func(c *Config) { c.Scheme = NumberOfSchemes },
		func(c *Config) { c.EchoEvery = -2 },
	}
	for i, mod := range bad {
		cfg := good
		mod(&cfg)
		_, err = NewIntegrator(u0, fn, cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}

	_, err = NewIntegrator(u0[:10], fn, good)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewIntegrator(u0, nil, good)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewChannelIntegrator(nil, fn, good)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewChannelIntegrator(mat.NewDense(10, 3, nil), fn, good)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStateMachine(t *testing.T) {
	M, N := 3, 3
	u0 := imageio.Squares(M, N)
	it, err := NewIntegrator(u0, mustChoose(t, diffusivity.Rational, 10),
		Config{M: M, N: N, T: 3, Dt: .01, Scheme: Implicit})
	require.NoError(t, err)

	h := it.History()
	assert.Equal(t, Initialized, it.State())
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 1, h.Written())
	assert.Equal(t, u0, h.At(0))
	assert.Nil(t, h.At(1))
	assert.Nil(t, h.At(-1))

	require.NoError(t, it.Step())
	assert.Equal(t, Stepping, it.State())
	assert.Equal(t, 2, h.Written())
	first := append([]float64(nil), h.At(1)...)

	require.NoError(t, it.Step())
	assert.Equal(t, Done, it.State())
	assert.Equal(t, 3, h.Written())
	assert.ErrorIs(t, it.Step(), ErrDone)
	assert.Equal(t, 3, h.Written())
	// written levels never change
	assert.Equal(t, first, h.At(1))

	r, c := h.Matrix().Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 25, c)
	assert.Equal(t, h.Final(), mat.Row(nil, 2, h.Matrix()))

	st := it.Statistics()
	assert.Equal(t, 2, st.StepCount)
	assert.Equal(t, 2, st.Assemblies)
	assert.Equal(t, 2, st.Solves)
	assert.Equal(t, 0, st.MatVecs)
}

func TestStatisticsPerScheme(t *testing.T) {
	M, N := 3, 4
	u0 := imageio.Squares(M, N)
	fn := mustChoose(t, diffusivity.Exponential, 20)
	want := map[Scheme][2]int{ // solves, matvecs
		Explicit:      {0, 4},
		Implicit:      {4, 0},
		CrankNicolson: {4, 4},
	}
	for _, s := range schemes {
		it, err := NewIntegrator(u0, fn, Config{M: M, N: N, T: 5, Dt: stableDt(t, M, N), Scheme: s})
		require.NoError(t, err)
		require.NoError(t, it.Run())
		st := it.Statistics()
		assert.Equal(t, 4, st.StepCount, s.String())
		assert.Equal(t, 4, st.Assemblies, s.String())
		assert.Equal(t, want[s][0], st.Solves, s.String())
		assert.Equal(t, want[s][1], st.MatVecs, s.String())
	}
}

func TestObserverCadence(t *testing.T) {
	M, N := 6, 5
	u0 := imageio.RandomSquares(M, N, 10, rand.New(rand.NewSource(2)))
	fn := mustChoose(t, diffusivity.Rational, 10)
	cfg := Config{M: M, N: N, T: 11, Dt: .001, Scheme: CrankNicolson}

	quiet, err := Solve(u0, fn, cfg)
	require.NoError(t, err)

	var seen []int
	cfg.EchoEvery = 3
	cfg.Observer = func(step int, u, d []float64) {
		seen = append(seen, step)
		assert.Len(t, u, cfg.K())
		assert.Len(t, d, cfg.K())
		for _, v := range d {
			assert.True(t, v > 0 && v <= 1)
		}
		// copies, scribbling on them changes nothing
		for k := range u {
			u[k] = -1
		}
	}
	loud, err := Solve(u0, fn, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 6, 9}, seen)
	assert.Equal(t, quiet.Matrix(), loud.Matrix())

	assert.Equal(t, 1, DefaultEchoEvery(5))
	assert.Equal(t, 20, DefaultEchoEvery(200))
}

func TestChannelsAreIndependent(t *testing.T) {
	M, N, C := 7, 5, 3
	rng := rand.New(rand.NewSource(4))
	u0 := imageio.AddNoiseChannels(imageio.Checkerboard(M, N, C), M, N, 25, rng)
	fn := mustChoose(t, diffusivity.Exponential, 8)

	for _, s := range schemes {
		cfg := Config{M: M, N: N, T: 6, Dt: stableDt(t, M, N), Scheme: s, Workers: 3}
		ch, err := SolveChannels(u0, fn, cfg)
		require.NoError(t, err)
		assert.Equal(t, C, ch.NumChannels())
		assert.Equal(t, 6, ch.Written())

		cfg.Workers = 1
		for c := 0; c < C; c++ {
			h, err := Solve(mat.Col(nil, c, u0), fn, cfg)
			require.NoError(t, err)
			for lvl := 0; lvl < h.Written(); lvl++ {
				assert.Equal(t, h.At(lvl), ch.Channel(c).At(lvl), "%s channel %d level %d", s, c, lvl)
				assert.Equal(t, h.At(lvl), mat.Col(nil, c, ch.At(lvl)))
			}
		}
	}
}

func TestIdenticalChannelsStayIdentical(t *testing.T) {
	M, N := 6, 6
	u0 := imageio.Checkerboard(M, N, 3)
	ci, err := NewChannelIntegrator(u0, mustChoose(t, diffusivity.Charbonnier, 10),
		Config{M: M, N: N, T: 4, Dt: .002, Scheme: Implicit})
	require.NoError(t, err)
	assert.Equal(t, Initialized, ci.State())
	require.NoError(t, ci.Run())
	assert.Equal(t, Done, ci.State())
	assert.ErrorIs(t, ci.Step(), ErrDone)

	final := ci.History().Final()
	for k := 0; k < (M+2)*(N+2); k++ {
		assert.Equal(t, final.At(k, 0), final.At(k, 1))
		assert.Equal(t, final.At(k, 0), final.At(k, 2))
	}
	st := ci.Statistics()
	assert.Equal(t, 3, st.StepCount)
	assert.Equal(t, 9, st.Solves)
}

func TestChannelObserver(t *testing.T) {
	M, N := 4, 4
	u0 := imageio.Checkerboard(M, N, 2)
	g := mustGrid(t, M, N)
	fn := mustChoose(t, diffusivity.Rational, 10)
	var seen []int
	cfg := Config{M: M, N: N, T: 7, Dt: .01, Scheme: Implicit, EchoEvery: 2,
		ChannelObserver: func(step int, u, d *mat.Dense) {
			seen = append(seen, step)
			r, c := u.Dims()
			assert.Equal(t, 36, r)
			assert.Equal(t, 2, c)
			r, c = d.Dims()
			assert.Equal(t, 36, r)
			assert.Equal(t, 2, c)
			// rational diffusivity lies in (0, 1]
			assert.Greater(t, mat.Min(d), 0.)
			assert.LessOrEqual(t, mat.Max(d), 1.)
			// each column is evaluated on its own channel
			for ch := 0; ch < c; ch++ {
				want, err := operator.Diffusivity(g, mat.Col(nil, ch, u), fn)
				require.NoError(t, err)
				assert.Equal(t, want, mat.Col(nil, ch, d), "step %d channel %d", step, ch)
			}
		},
		Observer: func(int, []float64, []float64) {
			t.Error("scalar observer called by channel run")
		},
	}
	_, err := SolveChannels(u0, fn, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, seen)
}

func TestDefaultSchemeIsImplicit(t *testing.T) {
	var cfg Config
	assert.Equal(t, Implicit, cfg.Scheme)

	// a dt far past the explicit bound stays bounded when no scheme is named
	M, N := 4, 4
	u0 := imageio.Checkerboard(M, N, 2)
	cfg = Config{M: M, N: N, T: 4, Dt: 10, CheckFinite: true}
	ci, err := NewChannelIntegrator(u0, mustChoose(t, diffusivity.Rational, 10), cfg)
	require.NoError(t, err)
	require.NoError(t, ci.Run())
	st := ci.Statistics()
	assert.Equal(t, 6, st.Solves)
	assert.Zero(t, st.MatVecs)
}

func TestChannelFailure(t *testing.T) {
	M, N := 4, 4
	u0 := imageio.Checkerboard(M, N, 2)
	ci, err := NewChannelIntegrator(u0, func(float64) float64 { return -1.e6 },
		Config{M: M, N: N, T: 4, Dt: .1, Scheme: Implicit})
	require.NoError(t, err)
	err = ci.Run()
	require.ErrorIs(t, err, ErrSolveFailure)
	assert.Equal(t, Aborted, ci.State())
	assert.Equal(t, 1, ci.History().Written())
	assert.True(t, errors.Is(ci.Step(), ErrSolveFailure))
}

func TestSchemeNames(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Scheme
	}{
		{"explicit", Explicit}, {"FE", Explicit}, {"forward-euler", Explicit},
		{"implicit", Implicit}, {" be ", Implicit},
		{"crank-nicolson", CrankNicolson}, {"CN", CrankNicolson},
	} {
		s, err := ParseScheme(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, s)
	}
	_, err := ParseScheme("rk4")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, []string{"implicit", "explicit", "crank-nicolson"}, SchemeNames())
	assert.Equal(t, 0., Explicit.Theta())
	assert.Equal(t, 1., Implicit.Theta())
	assert.Equal(t, .5, CrankNicolson.Theta())
	assert.Equal(t, "Scheme(7)", Scheme(7).String())
	assert.Equal(t, "aborted", Aborted.String())
}
