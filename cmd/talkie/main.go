// Command talkie is the self-hosted dictation utility's entry point:
// `talkie run` drives the capture -> VAD -> recognizer -> GEC -> keystroke
// pipeline; `talkie toggle`, `talkie status`, and `talkie devices` are
// lightweight side-channel commands that read or flip shared state without
// starting the pipeline themselves.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "talkie",
		Short: "Self-hosted, low-latency speech-to-text dictation",
	}

	var configPath, modelRoot string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to talkie.conf (default $XDG_CONFIG_HOME/talkie.conf)")
	root.PersistentFlags().StringVar(&modelRoot, "models", "", "directory containing model files (default $XDG_DATA_HOME/talkie/models)")

	root.AddCommand(
		newRunCmd(&configPath, &modelRoot),
		newToggleCmd(&configPath),
		newStatusCmd(&configPath),
		newDevicesCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Println("❌", err)
		os.Exit(1)
	}
}
