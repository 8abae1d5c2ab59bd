package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/reel-forge/internal/pipeline/steps"
)

func newPipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List the registered pipelines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range steps.Names() {
				def := steps.Registry[name]
				fmt.Fprintf(out, "%-8s %s\n", def.Name, def.Description)
				fmt.Fprintf(out, "         %s\n", strings.Join(def.Stages, " -> "))
			}
			return nil
		},
	}
}
