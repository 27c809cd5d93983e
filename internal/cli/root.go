package cli

import (
	"github.com/spf13/cobra"

	"github.com/apiary/apiary/pkg/version"
)

// NewApiaryCommand returns the root command for the apiary CLI.
func NewApiaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiary",
		Short: "Apiary is a configurable personal API gateway",
		Long: `Apiary exposes built-in health, metrics and auth endpoints plus an
arbitrary set of configuration-defined endpoints, each bound at runtime
to a pluggable backend service.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
