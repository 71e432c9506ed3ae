package main

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/anisodiff/config"
	"github.com/notargets/anisodiff/imageio"
	"github.com/notargets/anisodiff/integrator"
	"github.com/notargets/anisodiff/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		jsonLog    bool
		index      int
		f          = config.Default()
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Smooth an image, or the synthetic squares, and write the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			r := config.Default()
			if configPath != "" {
				if r, err = config.Load(configPath); err != nil {
					return
				}
			}
			overrides := map[string]func(){
				"m":            func() { r.Grid.M = f.Grid.M },
				"n":            func() { r.Grid.N = f.Grid.N },
				"steps":        func() { r.Steps = f.Steps },
				"dt":           func() { r.Dt = f.Dt },
				"scheme":       func() { r.Scheme = f.Scheme },
				"diffusivity":  func() { r.Diffusivity.Name, r.Diffusivity.Index = f.Diffusivity.Name, nil },
				"index":        func() { r.Diffusivity.Index = &index },
				"c":            func() { r.Diffusivity.C = f.Diffusivity.C },
				"echo-every":   func() { r.EchoEvery = f.EchoEvery },
				"check-finite": func() { r.CheckFinite = f.CheckFinite },
				"workers":      func() { r.Workers = f.Workers },
				"image":        func() { r.Image = f.Image },
				"color":        func() { r.Color = f.Color },
				"noise":        func() { r.Noise = f.Noise },
				"seed":         func() { r.Seed = f.Seed },
				"output":       func() { r.Output = f.Output },
				"log-level":    func() { r.LogLevel = f.LogLevel },
			}
			cmd.Flags().Visit(func(fl *pflag.Flag) {
				if o, ok := overrides[fl.Name]; ok {
					o()
				}
			})
			if err = r.Validate(); err != nil {
				return
			}
			log, err := utils.NewLogger(r.LogLevel, cmd.ErrOrStderr(), jsonLog)
			if err != nil {
				return
			}
			return execute(cmd.Context(), r, &log)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&configPath, "config", "", "YAML run file, flags override its values")
	fs.BoolVar(&jsonLog, "json-log", false, "log JSON lines instead of the console format")
	fs.IntVar(&f.Grid.M, "m", f.Grid.M, "interior nodes along x")
	fs.IntVar(&f.Grid.N, "n", f.Grid.N, "interior nodes along y")
	fs.IntVarP(&f.Steps, "steps", "T", f.Steps, "time levels written, initial condition included")
	fs.Float64Var(&f.Dt, "dt", f.Dt, "step size")
	fs.StringVar(&f.Scheme, "scheme", f.Scheme, "implicit, explicit or crank-nicolson")
	fs.StringVar(&f.Diffusivity.Name, "diffusivity", f.Diffusivity.Name, "diffusivity catalog name")
	fs.IntVar(&index, "index", 0, "diffusivity catalog index, overrides --diffusivity")
	fs.Float64Var(&f.Diffusivity.C, "c", f.Diffusivity.C, "diffusivity contrast parameter")
	fs.IntVar(&f.EchoEvery, "echo-every", f.EchoEvery, "log a field summary every n steps, 0 for ten per run")
	fs.BoolVar(&f.CheckFinite, "check-finite", f.CheckFinite, "abort when the state stops being finite")
	fs.IntVar(&f.Workers, "workers", f.Workers, "row bands assembled in parallel")
	fs.StringVar(&f.Image, "image", f.Image, "png or jpeg input, empty for the synthetic squares")
	fs.BoolVar(&f.Color, "color", f.Color, "smooth the RGB planes instead of the luminance")
	fs.IntVar(&f.Noise, "noise", f.Noise, "uniform noise amplitude added to the interior")
	fs.Int64Var(&f.Seed, "seed", f.Seed, "noise generator seed")
	fs.StringVarP(&f.Output, "output", "o", f.Output, "output directory")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "trace, debug, info, warn or error")
	return cmd
}

// initialState returns the K x C starting field and the name outputs are
// saved under
func initialState(r *config.Run, rng *rand.Rand) (u *mat.Dense, name string, err error) {
	M, N := r.Grid.M, r.Grid.N
	if r.Image == "" {
		name = "squares.png"
		if r.Color {
			u = imageio.AddNoiseChannels(imageio.Checkerboard(M, N, 3), M, N, r.Noise, rng)
			return
		}
		sq := imageio.RandomSquares(M, N, r.Noise, rng)
		u = mat.NewDense(len(sq), 1, sq)
		return
	}

	im, err := imageio.Load(r.Image, M+2, N+2)
	if err != nil {
		return
	}
	base := filepath.Base(r.Image)
	name = strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
	if r.Color && im.Channels == 3 {
		u = imageio.AddNoiseChannels(im.Data, M, N, r.Noise, rng)
		return
	}
	gray := imageio.AddNoise(im.Gray(), M, N, r.Noise, rng)
	u = mat.NewDense(len(gray), 1, gray)
	return
}

func execute(ctx context.Context, r *config.Run, log *zerolog.Logger) (err error) {
	cfg, err := r.IntegratorConfig(log)
	if err != nil {
		return
	}
	fn, err := r.Diffusivity.Func()
	if err != nil {
		return
	}
	u0, name, err := initialState(r, rand.New(rand.NewSource(r.Seed)))
	if err != nil {
		return
	}
	if err = os.MkdirAll(r.Output, 0o755); err != nil {
		return
	}
	w, h := r.Grid.M+2, r.Grid.N+2
	_, C := u0.Dims()
	log.Info().
		Str("input", name).
		Int("width", w).Int("height", h).Int("channels", C).
		Int("steps", r.Steps).Float64("dt", r.Dt).
		Str("scheme", cfg.Scheme.String()).
		Str("diffusivity", r.Diffusivity.Label()).
		Msg("starting run")

	var (
		frame   func(t int) image.Image
		written func() int
		runErr  error
	)
	if C == 1 {
		cfg.Observer = func(step int, u, d []float64) {
			log.Info().Int("step", step).
				Object("u", utils.Summarize(u, w)).
				Object("g", utils.Summarize(d, w)).
				Msg("observe")
		}
		var it *integrator.Integrator
		if it, err = integrator.NewIntegrator(mat.Col(nil, 0, u0), fn, cfg); err != nil {
			return
		}
		runErr = drive(ctx, it.Step, it.State)
		hist := it.History()
		frame = func(t int) image.Image { return imageio.ToGray(hist.At(t), w, h) }
		written = hist.Written
	} else {
		cfg.ChannelObserver = func(step int, u, d *mat.Dense) {
			uLo, uHi := utils.Range(u)
			gLo, gHi := utils.Range(d)
			ev := log.Info().Int("step", step).
				Floats64("u_range", []float64{uLo, uHi}).
				Floats64("g_range", []float64{gLo, gHi})
			for c := 0; c < C; c++ {
				ev = ev.Object(fmt.Sprintf("u%d", c), utils.Summarize(mat.Col(nil, c, u), w)).
					Object(fmt.Sprintf("g%d", c), utils.Summarize(mat.Col(nil, c, d), w))
			}
			ev.Msg("observe")
		}
		var ci *integrator.ChannelIntegrator
		if ci, err = integrator.NewChannelIntegrator(u0, fn, cfg); err != nil {
			return
		}
		runErr = drive(ctx, ci.Step, ci.State)
		hist := ci.History()
		frame = func(t int) image.Image { return imageio.ToRGBA(hist.At(t), w, h) }
		written = hist.Written
	}

	// Whatever was written before a failure is still worth looking at
	if err = saveOutputs(r, name, frame, written(), log); err != nil {
		return
	}
	return runErr
}

// drive steps until done, a step fails or ctx is cancelled
func drive(ctx context.Context, step func() error, state func() integrator.State) error {
	for state() != integrator.Done {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func saveOutputs(r *config.Run, name string, frame func(t int) image.Image, written int, log *zerolog.Logger) error {
	w, h := r.Grid.M+2, r.Grid.N+2
	zoom := max(1, 256/max(w, h))
	save := func(suffix string, img image.Image) error {
		imageName := strings.TrimSuffix(name, ".png") + suffix + ".png"
		path := imageio.SaveName(r.Output, imageName, w, h, r.Steps, r.Dt, r.Diffusivity.Label())
		if err := imageio.Save(path, img); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("saved")
		return nil
	}

	last := written - 1
	if err := save("", frame(last)); err != nil {
		return err
	}
	if err := save("_before_after", imageio.Montage([]image.Image{frame(0), frame(last)}, 2, zoom, 4)); err != nil {
		return err
	}
	var frames []image.Image
	for _, t := range imageio.ProgressionIndices(written) {
		frames = append(frames, frame(t))
	}
	return save("_progress", imageio.Montage(frames, 3, zoom, 4))
}
