package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talkie-dictation/talkie/internal/supervisor"
)

func newToggleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Flip the transcribing flag a running talkie run process polls for",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultStatePath()
			current, err := supervisor.ReadState(path)
			if err != nil {
				return err
			}
			next := !current
			if err := supervisor.WriteState(path, next); err != nil {
				return err
			}
			fmt.Printf("transcribing: %v -> %v\n", current, next)
			return nil
		},
	}
}
