package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talkie-dictation/talkie/internal/audio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture-capable audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.ListDevices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				marker := " "
				if d.IsDefault {
					marker = "*"
				}
				fmt.Printf("%s %-20s %s\n", marker, d.ID, d.Name)
			}
			return nil
		},
	}
}
