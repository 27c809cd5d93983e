package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apiary/apiary/pkg/version"
)

type versionOptions struct {
	output string
}

func NewVersionCommand() *cobra.Command {
	o := &versionOptions{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run()
		},
	}
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output format, one of: json")

	return cmd
}

func (o *versionOptions) Run() error {
	v := version.Get()
	switch o.output {
	case "":
		fmt.Printf("apiary version: %s\n", v.String())
	case "json":
		contents, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(contents))
	default:
		return fmt.Errorf("unknown output format: %s", o.output)
	}
	return nil
}
