package main

import (
	"github.com/spf13/cobra"

	"github.com/Dipanshu-verma/profilesync"
)

func newDiagramCommand() *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Print the run lifecycle as a mermaid state diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return profilesync.MermaidDiagram(cmd.OutOrStdout(), profilesync.MermaidDirection(direction))
		},
	}

	cmd.Flags().StringVar(&direction, "direction", string(profilesync.LeftToRightDirection), "diagram direction (TB, LR or RL)")

	return cmd
}
