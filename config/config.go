package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/notargets/anisodiff/diffusivity"
	"github.com/notargets/anisodiff/integrator"
	"github.com/notargets/anisodiff/utils"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRun is returned for run files that cannot drive an integration
var ErrInvalidRun = errors.New("invalid run configuration")

// Grid is the interior node count along each axis
type Grid struct {
	M int `yaml:"m"`
	N int `yaml:"n"`
}

// Diffusivity selects a catalog entry either by name or by index. An
// explicit index wins over the name.
type Diffusivity struct {
	Name  string  `yaml:"name,omitempty"`
	Index *int    `yaml:"index,omitempty"`
	C     float64 `yaml:"c"`
}

// Func resolves the selection against the diffusivity catalog
func (d Diffusivity) Func() (diffusivity.Func, error) {
	if d.Index != nil {
		return diffusivity.Choose(*d.Index, d.C)
	}
	return diffusivity.Lookup(d.Name, d.C)
}

// Label names the selection for output files and logs
func (d Diffusivity) Label() string {
	if d.Index != nil {
		return diffusivity.Kind(*d.Index).String()
	}
	return d.Name
}

// Run is the content of a run file
type Run struct {
	Grid        Grid        `yaml:"grid"`
	Steps       int         `yaml:"steps"`
	Dt          float64     `yaml:"dt"`
	Scheme      string      `yaml:"scheme"`
	Diffusivity Diffusivity `yaml:"diffusivity"`

	// EchoEvery is the observation cadence, 0 picks one spreading ten
	// observations over the run
	EchoEvery   int  `yaml:"echo_every"`
	CheckFinite bool `yaml:"check_finite"`
	Workers     int  `yaml:"workers"`

	// Image is the input picture, empty for the synthetic squares
	Image string `yaml:"image,omitempty"`
	Color bool   `yaml:"color"`
	Noise int    `yaml:"noise"`
	Seed  int64  `yaml:"seed"`

	Output   string `yaml:"output"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the settings used for anything a run file leaves out
func Default() *Run {
	return &Run{
		Grid:        Grid{M: 128, N: 128},
		Steps:       200,
		Dt:          1,
		Scheme:      integrator.Implicit.String(),
		Diffusivity: Diffusivity{Name: diffusivity.Rational.String(), C: 1},
		Noise:       35,
		Seed:        1,
		Output:      "figures",
		LogLevel:    "info",
	}
}

// Load reads a YAML run file over the defaults
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a YAML run document over the defaults. Unknown keys are
// rejected so a misspelled option does not silently fall back.
func Parse(data []byte) (*Run, error) {
	r := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks every field that can be checked before a run starts
func (r *Run) Validate() error {
	if r.Noise < 0 {
		return fmt.Errorf("%w: noise scale %d is negative", ErrInvalidRun, r.Noise)
	}
	if r.Workers < 0 {
		return fmt.Errorf("%w: workers %d is negative", ErrInvalidRun, r.Workers)
	}
	if _, err := r.Diffusivity.Func(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if _, err := utils.ParseLevel(r.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	cfg, err := r.IntegratorConfig(nil)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	return nil
}

// IntegratorConfig translates the run into integrator parameters
func (r *Run) IntegratorConfig(log *zerolog.Logger) (cfg integrator.Config, err error) {
	scheme, err := integrator.ParseScheme(r.Scheme)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidRun, err)
		return
	}
	echo := r.EchoEvery
	if echo == 0 {
		echo = integrator.DefaultEchoEvery(r.Steps)
	}
	cfg = integrator.Config{
		M:           r.Grid.M,
		N:           r.Grid.N,
		T:           r.Steps,
		Dt:          r.Dt,
		Scheme:      scheme,
		EchoEvery:   echo,
		CheckFinite: r.CheckFinite,
		Workers:     r.Workers,
		Logger:      log,
	}
	return
}

// Marshal renders the run as YAML, the form Load accepts
func (r *Run) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}
