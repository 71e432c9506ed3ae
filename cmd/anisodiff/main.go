// Command anisodiff denoises images with nonlinear anisotropic diffusion.
//
// Usage:
//
//	anisodiff run --image images/lena.jpg --noise 40 --steps 200 --dt 1
//	anisodiff run --config run.yaml --scheme cn --color
//	anisodiff schemes
//	anisodiff diffusivities
//
// Without --image the run smooths a noisy synthetic four squares picture.
// Flags given on the command line override the values of the run file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notargets/anisodiff/diffusivity"
	"github.com/notargets/anisodiff/integrator"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "anisodiff",
		Short:        "Edge preserving image smoothing by nonlinear diffusion",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newSchemesCmd(), newDiffusivitiesCmd())
	return root
}

func newSchemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List the time integration schemes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for i, name := range integrator.SchemeNames() {
				s := integrator.Scheme(i)
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s theta=%.1f\n", name, s.Theta())
			}
		},
	}
}

func newDiffusivitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diffusivities",
		Short: "List the diffusivity catalog",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			formulas := map[diffusivity.Kind]string{
				diffusivity.Constant:    "g(s) = c",
				diffusivity.Exponential: "g(s) = exp(-s/c²)",
				diffusivity.Rational:    "g(s) = 1/(1 + s/c²)",
				diffusivity.Charbonnier: "g(s) = 1/sqrt(1 + s/c²)",
			}
			for i, name := range diffusivity.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d  %-12s %s\n", i, name, formulas[diffusivity.Kind(i)])
			}
		},
	}
}
