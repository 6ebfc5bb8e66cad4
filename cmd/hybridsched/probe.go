package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/config"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Print the host capability snapshot",
		Long:  `Probe the host the same way serve does and print the capability snapshot as JSON.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, err := probeHost(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		},
	}
}

// probeHost applies the configured overrides to a host probe.
func probeHost(cmd *cobra.Command) (capability.Snapshot, error) {
	cfg, err := config.Load()
	if err != nil {
		return capability.Snapshot{}, err
	}
	prober := &capability.HostProber{Overrides: cfg.Overrides()}
	caps, err := prober.Probe(cmd.Context())
	if err != nil {
		return capability.Snapshot{}, fmt.Errorf("probe capabilities: %w", err)
	}
	return caps, nil
}
