package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/model"
)

func newSelectCmd() *cobra.Command {
	var (
		size      int
		precision string
		depth     int
		memory    int
	)

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Show which backend a problem would run on",
		Long:  `Select a backend for the described problem against this host's capabilities. Nothing is executed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prec, err := model.ParsePrecision(precision)
			if err != nil {
				return err
			}
			p, err := model.NewProblem(size, prec, depth, memory)
			if err != nil {
				return err
			}
			caps, err := probeHost(cmd)
			if err != nil {
				return err
			}

			eligible := backend.Eligible(p, caps)
			names := make([]string, len(eligible))
			for i, id := range eligible {
				names[i] = string(id)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend:  %s\n", backend.Select(p, caps))
			fmt.Fprintf(out, "eligible: %s\n", strings.Join(names, ", "))
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "size", 0, "primary problem dimension")
	cmd.Flags().StringVar(&precision, "precision", "fp32", "numeric precision (fp16, fp32, bfloat16)")
	cmd.Flags().IntVar(&depth, "depth", 0, "circuit depth")
	cmd.Flags().IntVar(&memory, "memory", 0, "memory required in MB")
	_ = cmd.MarkFlagRequired("size")

	return cmd
}
